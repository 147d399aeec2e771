package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds checked by the transport layers to pick a status code.
// Wrap them with WrapError so the operation that failed stays in the chain.
var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrNoPendingApproval = errors.New("no pending approval for session")
	ErrStaleCheckpoint   = errors.New("checkpoint is older than the latest step")
)

func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
