package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connected          // polling a device link
	TestMode           // polling the synthetic generator
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case TestMode:
		return "test"
	default:
		return "disconnected"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "connected":
		*s = Connected
	case "test":
		*s = TestMode
	case "disconnected":
		*s = Disconnected
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

// Status is a snapshot of the session for consumers.
type Status struct {
	State       State      `json:"state"`
	Polling     bool       `json:"polling"`
	RunID       string     `json:"runId,omitempty"`
	Device      string     `json:"device,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	SinceHuman  string     `json:"sinceHuman,omitempty"`
	Ticks       uint64     `json:"ticks"`
	Records     int        `json:"records"`
	Capacity    int        `json:"capacity"`
	PollErrors  uint64     `json:"pollErrors"`
	LastError   string     `json:"lastError,omitempty"`
	TestEnabled bool       `json:"testEnabled"`
}
