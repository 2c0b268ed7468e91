// Package services holds the gallery business logic: the image record store,
// the per-user order list, the media gateway and the orchestration on top.
package services

import (
	"errors"
	"fmt"
)

// Business errors surfaced to the API layer. Handlers map them to HTTP status
// codes with errors.Is; anything else is treated as a transient server error.
var (
	ErrDuplicateTitle = errors.New("an image with this title already exists for this user")
	ErrCountMismatch  = errors.New("titles and files counts do not match")
	ErrNotFound       = errors.New("image not found")
	ErrForbidden      = errors.New("image does not belong to the requesting user")
	ErrInvalidOrder   = errors.New("submitted order does not match the current image set")
	ErrOrderConflict  = errors.New("order list was modified concurrently")

	ErrUploadRejected  = errors.New("upload rejected")
	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", ErrUploadRejected)
	ErrFileTooLarge    = fmt.Errorf("%w: file exceeds size limit", ErrUploadRejected)
)
