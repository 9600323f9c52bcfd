// Package websocket streams live price estimates to form clients. Each
// connection is one logical input stream and gets its own pipeline.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/estimation"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Client message types
const (
	MessageInput    = "input"
	MessageFlush    = "flush"
	MessageLastGood = "last_good"
)

// Server frame types
const (
	FrameEstimate = "estimate"
	FrameLastGood = "last_good"
	FrameError    = "error"
)

// ClientMessage is one frame sent by the form. An empty Type means input.
type ClientMessage struct {
	Type        string                  `json:"type"`
	MachineType domainwf.MachineType    `json:"machine_type"`
	Snapshot    estimation.FormSnapshot `json:"snapshot"`
}

// Frame is one message sent to the form
type Frame struct {
	Type      string                       `json:"type"`
	RequestID uint64                       `json:"request_id,omitempty"`
	Kind      string                       `json:"kind,omitempty"`
	Result    *estimation.EstimationResult `json:"result,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

// StreamConfig holds configuration for the estimate stream
type StreamConfig struct {
	Debounce       time.Duration
	Timeout        time.Duration
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// DefaultStreamConfig returns default configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Debounce:       estimation.DefaultDebounce,
		Timeout:        5 * time.Second,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// EstimateStream upgrades requests to WebSocket connections and runs an
// estimation pipeline for each
type EstimateStream struct {
	estimator estimation.Estimator
	observer  estimation.Observer
	config    StreamConfig
	upgrader  websocket.Upgrader
	logger    *zap.Logger

	active atomic.Int64
}

// NewEstimateStream creates the stream handler. observer may be nil.
func NewEstimateStream(estimator estimation.Estimator, config StreamConfig, observer estimation.Observer, logger *zap.Logger) *EstimateStream {
	defaults := DefaultStreamConfig()
	if config.Debounce < 0 {
		config.Debounce = defaults.Debounce
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.PongWait <= 0 {
		config.PongWait = defaults.PongWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	return &EstimateStream{
		estimator: estimator,
		observer:  observer,
		config:    config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Active returns the number of open connections
func (s *EstimateStream) Active() int64 {
	return s.active.Load()
}

// ServeHTTP handles one client for the lifetime of its connection
func (s *EstimateStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	s.logger.Info("Estimate stream opened", zap.String("remote_addr", r.RemoteAddr))

	out := make(chan Frame, 8)
	writerDone := make(chan struct{})

	send := func(f Frame) {
		select {
		case out <- f:
		case <-writerDone:
		}
	}

	opts := []estimation.PipelineOption{
		estimation.WithDebounce(s.config.Debounce),
		estimation.WithTimeout(s.config.Timeout),
	}
	if s.observer != nil {
		opts = append(opts, estimation.WithObserver(s.observer))
	}
	pipeline := estimation.NewPipeline(s.estimator, func(d estimation.Delivery) {
		send(deliveryFrame(d))
	}, opts...)

	go s.writeLoop(conn, out, writerDone)

	s.readLoop(conn, pipeline, send)

	// no callback runs once Close returns, so out can be closed safely
	pipeline.Close()
	close(out)
	<-writerDone
	conn.Close()

	s.logger.Info("Estimate stream closed", zap.String("remote_addr", r.RemoteAddr))
}

func (s *EstimateStream) readLoop(conn *websocket.Conn, pipeline *estimation.Pipeline, send func(Frame)) {
	conn.SetReadLimit(s.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Estimate stream read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			send(Frame{Type: FrameError, Error: "invalid message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case MessageInput, "":
			pipeline.OnInputChange(msg.Snapshot, msg.MachineType)
		case MessageFlush:
			pipeline.Flush()
		case MessageLastGood:
			f := Frame{Type: FrameLastGood}
			if res, ok := pipeline.LastGood(); ok {
				f.Result = &res
			}
			send(f)
		default:
			send(Frame{Type: FrameError, Error: "unknown message type: " + msg.Type})
		}
	}
}

// writeLoop owns all writes on conn. It exits when out is closed or a write
// fails, closing done either way.
func (s *EstimateStream) writeLoop(conn *websocket.Conn, out <-chan Frame, done chan<- struct{}) {
	defer close(done)

	ping := time.NewTicker(s.config.PongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case f, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(f); err != nil {
				s.logger.Warn("Estimate stream write failed", zap.Error(err))
				// unblock the reader
				conn.Close()
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func deliveryFrame(d estimation.Delivery) Frame {
	res := d.Result
	f := Frame{
		Type:      FrameEstimate,
		RequestID: d.RequestID,
		Kind:      d.Kind(),
		Result:    &res,
	}
	if d.Err != nil {
		f.Error = d.Err.Error()
	}
	return f
}
