package core

import "errors"

// ErrTimeout is returned by WaitForTask when the deadline elapses before the
// task reaches a terminal state.
var ErrTimeout = errors.New("core: timed out waiting for task")

// ErrInvalidState is returned by Resume when the task is not COMPLETED.
var ErrInvalidState = errors.New("core: task is not in a resumable state")
