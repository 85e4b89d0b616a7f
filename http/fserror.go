package http

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/42ship/serverx/http/status"
)

// FSError maps filesystem errors onto HTTP ones.
func FSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return status.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return status.ErrForbidden
	case errors.Is(err, fs.ErrExist), errors.Is(err, syscall.ENOTEMPTY):
		return status.ErrConflict
	default:
		return status.ErrInternalServerError
	}
}
