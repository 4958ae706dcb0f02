// Package instrument is a typed facade over the remote instrument API.
package instrument

import (
	"context"

	"instrument-rpc/client"
)

// Remote method names.
const (
	MethodPing              = "ping"
	MethodGetRPCVersion     = "getRPCVersion"
	MethodGetProductName    = "getProductName"
	MethodGetProductVersion = "getProductVersion"
	MethodGetState          = "getState"
	MethodGetRecordingState = "getRecordingState"
	MethodStartTracking     = "startTracking"
	MethodStopTracking      = "stopTracking"
	MethodStartRecording    = "startRecording"
	MethodStopRecording     = "stopRecording"
	MethodSetLogFile        = "setLogFile"
	MethodStartLog          = "startLog"
	MethodStopLog           = "stopLog"
	MethodSendNotification  = "sendNotification"
	MethodShutdown          = "shutdown"
)

// Notifications emitted by the instrument.
const (
	NotifyStateChanged = "stateChanged"
	NotifyHeartbeat    = "heartbeat"
)

// Version is the RPC protocol version reported by the server.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type stateResult struct {
	State TrackerState `json:"state"`
}

type recordingStateResult struct {
	RecordingState RecordingState `json:"recordingState"`
}

// Instrument issues typed calls over a connected client.
type Instrument struct {
	c *client.Client
}

func New(c *client.Client) *Instrument {
	return &Instrument{c: c}
}

// Client returns the underlying client, for subscriptions and raw calls.
func (in *Instrument) Client() *client.Client { return in.c }

func (in *Instrument) Ping(ctx context.Context) (string, error) {
	var reply string
	err := in.c.Call(ctx, MethodPing, nil, &reply)
	return reply, err
}

func (in *Instrument) RPCVersion(ctx context.Context) (Version, error) {
	var v Version
	err := in.c.Call(ctx, MethodGetRPCVersion, nil, &v)
	return v, err
}

func (in *Instrument) ProductName(ctx context.Context) (string, error) {
	var reply string
	err := in.c.Call(ctx, MethodGetProductName, nil, &reply)
	return reply, err
}

func (in *Instrument) ProductVersion(ctx context.Context) (string, error) {
	var reply string
	err := in.c.Call(ctx, MethodGetProductVersion, nil, &reply)
	return reply, err
}

// State returns the tracker state enum; use a StateTable to name it.
func (in *Instrument) State(ctx context.Context) (TrackerState, error) {
	var r stateResult
	err := in.c.Call(ctx, MethodGetState, nil, &r)
	return r.State, err
}

func (in *Instrument) RecordingState(ctx context.Context) (RecordingState, error) {
	var r recordingStateResult
	err := in.c.Call(ctx, MethodGetRecordingState, nil, &r)
	return r.RecordingState, err
}

func (in *Instrument) StartTracking(ctx context.Context) error {
	return in.c.Call(ctx, MethodStartTracking, nil, nil)
}

func (in *Instrument) StopTracking(ctx context.Context) error {
	return in.c.Call(ctx, MethodStopTracking, nil, nil)
}

// StartRecording starts a recording; compression is the server's compression level, 0 for none.
func (in *Instrument) StartRecording(ctx context.Context, compression int) error {
	return in.c.Call(ctx, MethodStartRecording, compression, nil)
}

func (in *Instrument) StopRecording(ctx context.Context) error {
	return in.c.Call(ctx, MethodStopRecording, nil, nil)
}

func (in *Instrument) SetLogFile(ctx context.Context, path string) error {
	return in.c.Call(ctx, MethodSetLogFile, path, nil)
}

func (in *Instrument) StartLog(ctx context.Context) error {
	return in.c.Call(ctx, MethodStartLog, nil, nil)
}

func (in *Instrument) StopLog(ctx context.Context) error {
	return in.c.Call(ctx, MethodStopLog, nil, nil)
}

// SendNotification asks the server to emit the notification name to its subscribers,
// carrying args as the notification params.
func (in *Instrument) SendNotification(ctx context.Context, name string, args ...any) error {
	params := append([]any{name}, args...)
	return in.c.Call(ctx, MethodSendNotification, params, nil)
}

// Shutdown asks the server to exit and then disconnects locally. The local
// disconnect happens even when the call fails, since the server may drop the
// connection before answering.
func (in *Instrument) Shutdown(ctx context.Context) error {
	err := in.c.Call(ctx, MethodShutdown, nil, nil)
	if in.c.Connected() {
		in.c.Disconnect()
	}
	return err
}
