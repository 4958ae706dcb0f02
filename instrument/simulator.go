package instrument

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"instrument-rpc/rpcerr"
)

// Notifier pushes a notification to subscribed connections. *server.Server satisfies it.
type Notifier interface {
	Notify(method string, params any) (int, error)
}

// Application error codes returned by the simulator.
const (
	CodeInvalidState = 1
	CodeBadArgument  = 2
)

// Simulator is a software instrument. Register it on a server to expose its methods.
type Simulator struct {
	ProductName    string
	ProductVersion string

	notifier   Notifier
	logger     zerolog.Logger
	onShutdown func()

	mu        sync.Mutex
	state     TrackerState
	recording RecordingState
	logFile   string
	logging   bool
}

// NewSimulator returns an idle simulator. onShutdown runs in its own goroutine when a
// client calls shutdown; it may be nil.
func NewSimulator(n Notifier, logger zerolog.Logger, onShutdown func()) *Simulator {
	return &Simulator{
		ProductName:    "instrument-sim",
		ProductVersion: "1.0.0",
		notifier:       n,
		logger:         logger,
		onShutdown:     onShutdown,
		state:          StateIdle,
		recording:      RecordingIdle,
	}
}

func (s *Simulator) Ping(args *struct{}, reply *string) error {
	*reply = "pong"
	return nil
}

func (s *Simulator) GetRPCVersion(args *struct{}, reply *Version) error {
	*reply = Version{Major: 1, Minor: 0}
	return nil
}

func (s *Simulator) GetProductName(args *struct{}, reply *string) error {
	*reply = s.ProductName
	return nil
}

func (s *Simulator) GetProductVersion(args *struct{}, reply *string) error {
	*reply = s.ProductVersion
	return nil
}

func (s *Simulator) GetState(args *struct{}, reply *stateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply.State = s.state
	return nil
}

func (s *Simulator) GetRecordingState(args *struct{}, reply *recordingStateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply.RecordingState = s.recording
	return nil
}

func (s *Simulator) StartTracking(args *struct{}, reply *bool) error {
	if err := s.setState(StateTracking); err != nil {
		return err
	}
	*reply = true
	return nil
}

func (s *Simulator) StopTracking(args *struct{}, reply *bool) error {
	s.mu.Lock()
	if s.recording == RecordingActive {
		s.mu.Unlock()
		return &rpcerr.RemoteError{Code: CodeInvalidState, Message: "recording in progress"}
	}
	s.mu.Unlock()
	if err := s.setState(StateIdle); err != nil {
		return err
	}
	*reply = true
	return nil
}

func (s *Simulator) StartRecording(args *int, reply *bool) error {
	if *args < 0 {
		return &rpcerr.RemoteError{Code: CodeBadArgument, Message: "compression must not be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTracking {
		return &rpcerr.RemoteError{Code: CodeInvalidState, Message: "not tracking"}
	}
	s.recording = RecordingActive
	s.logger.Info().Int("compression", *args).Msg("recording started")
	*reply = true
	return nil
}

func (s *Simulator) StopRecording(args *struct{}, reply *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = RecordingIdle
	*reply = true
	return nil
}

func (s *Simulator) SetLogFile(args *string, reply *bool) error {
	if *args == "" {
		return &rpcerr.RemoteError{Code: CodeBadArgument, Message: "missing path"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logFile = *args
	*reply = true
	return nil
}

func (s *Simulator) StartLog(args *struct{}, reply *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == "" {
		return &rpcerr.RemoteError{Code: CodeInvalidState, Message: "no log file set"}
	}
	s.logging = true
	*reply = true
	return nil
}

func (s *Simulator) StopLog(args *struct{}, reply *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logging = false
	*reply = true
	return nil
}

// SendNotification emits params[0] as a notification carrying the remaining params.
func (s *Simulator) SendNotification(args *[]json.RawMessage, reply *int) error {
	if len(*args) == 0 {
		return &rpcerr.RemoteError{Code: CodeBadArgument, Message: "missing notification name"}
	}
	var name string
	if err := json.Unmarshal((*args)[0], &name); err != nil || name == "" {
		return &rpcerr.RemoteError{Code: CodeBadArgument, Message: "notification name must be a string"}
	}
	var params any
	if len(*args) > 1 {
		params = (*args)[1:]
	}
	n, err := s.notify(name, params)
	if err != nil {
		return err
	}
	*reply = n
	return nil
}

func (s *Simulator) Shutdown(args *struct{}, reply *bool) error {
	s.logger.Info().Msg("shutdown requested")
	if s.onShutdown != nil {
		go s.onShutdown()
	}
	*reply = true
	return nil
}

// Heartbeat pushes a heartbeat notification carrying the current tracker state.
func (s *Simulator) Heartbeat() (int, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	return s.notify(NotifyHeartbeat, int(state))
}

// Logging reports the current log file and whether logging is active.
func (s *Simulator) Logging() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logFile, s.logging
}

func (s *Simulator) setState(next TrackerState) error {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev == next {
		return nil
	}
	s.logger.Info().Str("from", EnumValue(int(prev))).Str("to", EnumValue(int(next))).Msg("state changed")
	_, err := s.notify(NotifyStateChanged, int(next))
	return err
}

func (s *Simulator) notify(name string, params any) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	return s.notifier.Notify(name, params)
}
