package types

import "errors"

var (
	// ErrInvalidConfig marks a submission that is missing required input.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrLoad marks a table, field, or model listing failure.
	ErrLoad = errors.New("load failed")
	// ErrRun marks a failure that aborted a run.
	ErrRun = errors.New("run failed")
)
