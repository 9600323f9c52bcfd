package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk form of a policy override. Roles that are not
// listed keep their built-in entry.
type PolicyFile struct {
	Roles map[Role]RoleSpec `yaml:"roles"`
}

// LoadPolicy decodes YAML overrides and validates the merged table against
// the master graph.
func LoadPolicy(r io.Reader) (*Policy, error) {
	var pf PolicyFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	specs := DefaultRoleSpecs()
	for role, spec := range pf.Roles {
		specs[role] = spec
	}

	return NewPolicy(MasterGraph(), specs)
}

// LoadPolicyFile reads overrides from path; an empty path yields the
// built-in policy.
func LoadPolicyFile(path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(MasterGraph(), DefaultRoleSpecs())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	p, err := LoadPolicy(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

// MarshalPolicy renders the effective policy as YAML
func MarshalPolicy(p *Policy) ([]byte, error) {
	pf := PolicyFile{Roles: make(map[Role]RoleSpec, len(AllRoles()))}
	for _, role := range AllRoles() {
		pf.Roles[role] = p.Spec(role)
	}
	return yaml.Marshal(pf)
}
