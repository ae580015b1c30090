package agent

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for an empty thread id or a blank message
var ErrInvalidInput = errors.New("thread id and message are required")

// ClassificationError reports a model reply that matched no intent label
type ClassificationError struct {
	Raw string
	Err error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("intent classification failed: %v", e.Err)
	}
	return fmt.Sprintf("unrecognized intent label %q", e.Raw)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// ExtractionError reports a failed or unparseable extraction reply.
// The orchestrator absorbs it and keeps the current fields.
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("field extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Turn stages that can abort a turn
const (
	StageLoad     = "load_state"
	StageClassify = "classify"
	StageSave     = "save_state"
)

// TurnError wraps the failure that aborted a turn
type TurnError struct {
	Stage string
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn aborted at %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
