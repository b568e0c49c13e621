package model

import "errors"

// Boundary errors shared by the session controller and the upstream client.
var (
	ErrInsufficientTime = errors.New("insufficient time remaining for this round")
	ErrUnknownQuestion  = errors.New("question does not belong to the current round")
	ErrRoundNotFound    = errors.New("round not found in package")
)
