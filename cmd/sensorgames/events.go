package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"sensorgames/internal/game"
)

// ============================================================================
// Daemon events
// ============================================================================
// Everything that touches a game controller is delivered to the daemon loop
// as an Event. Requests come from IPC and HTTP; callbacks come from timers
// and sensor goroutines.
// ============================================================================

// Event is a marker interface for everything the daemon loop consumes.
type Event interface {
	eventMarker()
}

// Request is a control operation addressed to one game.
type Request interface {
	Event
	target() game.Kind
}

// StartGame acquires the game's sensor and begins a session.
type StartGame struct {
	Game game.Kind `json:"game"`
}

// StopGame ends a running session early and classifies it.
type StopGame struct {
	Game game.Kind `json:"game"`
}

// ResetGame returns the game to Ready, discarding any result.
type ResetGame struct {
	Game game.Kind `json:"game"`
}

// GetStatus returns the game's snapshot.
type GetStatus struct {
	Game game.Kind `json:"game"`
}

func (StartGame) eventMarker() {}
func (StopGame) eventMarker()  {}
func (ResetGame) eventMarker() {}
func (GetStatus) eventMarker() {}

func (r StartGame) target() game.Kind { return r.Game }
func (r StopGame) target() game.Kind  { return r.Game }
func (r ResetGame) target() game.Kind { return r.Game }
func (r GetStatus) target() game.Kind { return r.Game }

// Reply is the daemon's answer to a Request.
type Reply struct {
	Data any
	Err  error
}

// requestEvent carries a Request and its reply channel into the loop.
type requestEvent struct {
	Req   Request
	Reply chan<- Reply
}

func (requestEvent) eventMarker() {}

// RequestStateSnapshot asks the loop for every game's snapshot.
type RequestStateSnapshot struct {
	Reply chan<- []game.Snapshot
}

func (RequestStateSnapshot) eventMarker() {}

// callback runs a function on the daemon loop. Timers and sensor bridges
// use it to hop onto the executor.
type callback func()

func (callback) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps a request with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Wire names for requests.
const (
	requestStart  = "start"
	requestStop   = "stop"
	requestReset  = "reset"
	requestStatus = "status"
)

// errUnknownRequest is returned for an unknown envelope type.
var errUnknownRequest = errors.New("unknown request type")

// gameData is the shared payload shape of every request.
type gameData struct {
	Game string `json:"game"`
}

// UnmarshalRequest deserializes a JSON envelope into a concrete Request.
func UnmarshalRequest(data []byte) (Request, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var gd gameData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &gd); err != nil {
			return nil, fmt.Errorf("unmarshal %s data: %w", env.Type, err)
		}
	}

	switch env.Type {
	case requestStart, requestStop, requestReset, requestStatus:
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownRequest, env.Type)
	}

	kind, err := game.ParseKind(gd.Game)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnknownGame, err)
	}
	return newRequest(env.Type, kind)
}

// newRequest builds the Request for a wire name.
func newRequest(typ string, kind game.Kind) (Request, error) {
	switch typ {
	case requestStart:
		return StartGame{Game: kind}, nil
	case requestStop:
		return StopGame{Game: kind}, nil
	case requestReset:
		return ResetGame{Game: kind}, nil
	case requestStatus:
		return GetStatus{Game: kind}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownRequest, typ)
	}
}

// MarshalRequest serializes a Request into a JSON envelope.
func MarshalRequest(r Request) ([]byte, error) {
	var env EventEnvelope

	switch r.(type) {
	case StartGame:
		env.Type = requestStart
	case StopGame:
		env.Type = requestStop
	case ResetGame:
		env.Type = requestReset
	case GetStatus:
		env.Type = requestStatus
	default:
		return nil, fmt.Errorf("unsupported request type: %T", r)
	}

	data, err := json.Marshal(gameData{Game: string(r.target())})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data

	return json.Marshal(env)
}
