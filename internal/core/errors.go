package core

import "errors"

var (
	// ErrSessionNotFound is returned when no live session has the given ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionComplete is returned when a closed session receives input.
	ErrSessionComplete = errors.New("session is complete")
	// ErrEmptyInput rejects blank transcripts.
	ErrEmptyInput = errors.New("empty input")
	// ErrEchoDiscarded marks input dropped as a playback echo.
	ErrEchoDiscarded = errors.New("input discarded as echo")
	// ErrListeningSuspended marks input captured while listening was off.
	ErrListeningSuspended = errors.New("listening suspended")
	// ErrMessageCap is returned once a session has used its message budget.
	ErrMessageCap = errors.New("message cap reached")
	// ErrNotStarted is returned by Step before Start.
	ErrNotStarted = errors.New("conversation not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("conversation already started")
)
