// Package common defines shared constants and sentinel errors used across
// client and server layers of entrysync. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Authorization errors.
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrVersionConflict reports a stale version on a version-guarded write.
	// Sync paths treat it as "already newer" and move on.
	ErrVersionConflict = errors.New("version conflict")

	// Entry-level errors. ErrEntryNotFound also matches ErrNotFound.
	ErrEntryNotFound    = fmt.Errorf("entry %w", ErrNotFound)
	ErrInvalidEntryType = errors.New("invalid entry type")
	ErrInvalidEntry     = errors.New("invalid entry")
	ErrAlreadyExists    = errors.New("already exists")

	// Sync errors.
	ErrTransientNetwork = errors.New("transient network error")
	ErrPermanentApply   = errors.New("permanent apply error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidRequest reports a malformed request outside the entry model.
	ErrInvalidRequest = errors.New("invalid request")

	ErrInternal = errors.New("internal error")
)
