package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// at the socket boundary without string matching
var (
	ErrInvalidMessageFormat = errors.New("invalid message format")
)
