package service

import (
	"errors"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
)

// coerce passes coded errors through unchanged and wraps anything else (a
// store or driver failure) as an internal error, so that only the four
// client-facing kinds ever escape with their own codes.
func coerce(err error, msg string) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Wrap(err, apperr.ErrCodeInternal, msg)
}
