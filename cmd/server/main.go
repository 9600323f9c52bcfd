package main

import (
	"os"

	"github.com/garyjia/printshop-workflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
