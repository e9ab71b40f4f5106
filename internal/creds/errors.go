package creds

import "errors"

var (
	ErrSignatureInvalid = errors.New("creds: signature invalid")
	ErrTimestampSkew    = errors.New("creds: timestamp skew exceeds tolerance")
	ErrReplayDetected   = errors.New("creds: replay detected")
	ErrUnknownKeyID     = errors.New("creds: unknown key id")
	ErrForbidden        = errors.New("creds: actor lacks required role")
)
