package common

import "errors"

var (
	ErrInvalidPubkey      = errors.New("invalid pubkey")
	ErrInvalidForkVersion = errors.New("invalid fork version")
	ErrIncorrectLength    = errors.New("incorrect length")
	ErrNilPayload         = errors.New("execution payload is nil")
)
