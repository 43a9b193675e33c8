package limiter

import "errors"

var (
	// ErrInvalidIdentity is returned when the module or key is empty.
	ErrInvalidIdentity = errors.New("limiter: invalid identity")

	// ErrInvalidPolicy is returned by Policy.Validate and PolicyRegistry.Register.
	ErrInvalidPolicy = errors.New("limiter: invalid policy")
)
