package domain

import "errors"

// ErrIllegalTransition indicates a lifecycle change that the current state does not allow.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// ErrTargetBusy indicates the target is already owned by a different workflow run.
var ErrTargetBusy = errors.New("target is owned by another workflow run")

// ErrResponseNotReady indicates evaluation was requested before a response was finalized.
var ErrResponseNotReady = errors.New("response is not complete")

// ErrInvalidInput indicates that a workflow or activity input failed validation.
var ErrInvalidInput = errors.New("invalid input")
