// Package pipeline sequences the stages of one interferometric run as a
// linear state machine.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is a pipeline state. Runs move strictly forward through the states
// in declaration order; Failed is absorbing.
type State int

const (
	Init State = iota
	PolarizationSelected
	DEMReady
	BurstsResolved
	Coregistered
	OffsetValidated
	Geocoded
	MetadataWritten
	ProductsCollected
	Done
	Failed
)

var stateNames = [...]string{
	Init:                 "INIT",
	PolarizationSelected: "POLARIZATION_SELECTED",
	DEMReady:             "DEM_READY",
	BurstsResolved:       "BURSTS_RESOLVED",
	Coregistered:         "COREGISTERED",
	OffsetValidated:      "OFFSET_VALIDATED",
	Geocoded:             "GEOCODED",
	MetadataWritten:      "METADATA_WRITTEN",
	ProductsCollected:    "PRODUCTS_COLLECTED",
	Done:                 "DONE",
	Failed:               "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for i, name := range stateNames {
		if name == s {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pipeline state %q", s)
}

// RunError reports the state in which a run failed. State is the last
// state reached before the failure.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed after %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// FailedState extracts the state a run failed after, if err came from Run.
func FailedState(err error) (State, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.State, true
	}
	return 0, false
}

// Event is one state transition.
type Event struct {
	From State
	To   State
	At   time.Time
	// Err is set on the transition into Failed.
	Err error
}

// Observer receives every transition of a run in order.
type Observer func(Event)
