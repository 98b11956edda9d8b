package domain

import "fmt"

// DeviceError reports a microphone start/stop failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("device %s: %v", e.Op, e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// PipelineError reports a failed submission to the transcription pipeline.
type PipelineError struct {
	Location string
	Err      error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline %s: %v", e.Location, e.Err)
}
func (e *PipelineError) Unwrap() error { return e.Err }

// StoreError reports a persisted-store read or write failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// UpdateError reports a check, download or install failure.
type UpdateError struct {
	Op  string
	Err error
}

func (e *UpdateError) Error() string { return fmt.Sprintf("update %s: %v", e.Op, e.Err) }
func (e *UpdateError) Unwrap() error { return e.Err }
