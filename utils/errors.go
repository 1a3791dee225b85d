// Package utils contains the error kinds shared by every stage of the stereo pipeline and a few
// small serialization helpers.
package utils

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// The error kinds. Every fallible pipeline operation returns an error that matches exactly one
// of these with errors.Is (RectificationFailed caused by a size mismatch also matches
// ErrDimensionMismatch).
var (
	ErrConfigurationUnavailable = errors.New("calibration configuration unavailable")
	ErrConfigurationCorrupt     = errors.New("calibration configuration corrupt")
	ErrRectificationFailed      = errors.New("rectification failed")
	ErrUnsupportedImageFormat   = errors.New("unsupported image format")
	ErrDimensionMismatch        = errors.New("dimension mismatch")
	ErrIO                       = errors.New("i/o error")
	ErrMatcherFailure           = errors.New("stereo matcher failure")
)

// Error tags a failure with its kind while keeping the cause chain intact.
type Error struct {
	Kind  error
	msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.msg, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// NewError returns an error of the given kind.
func NewError(kind error, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, args...), Cause: cause})
}

// NewConfigurationUnavailableError is used when no stored calibration exists at source.
func NewConfigurationUnavailableError(source string, cause error) error {
	return NewError(ErrConfigurationUnavailable, cause, "no calibration stored at %q", source)
}

// NewConfigurationFieldError is used when a calibration field is missing or invalid.
func NewConfigurationFieldError(field, problem string) error {
	return NewError(ErrConfigurationCorrupt, nil, "field %q %s", field, problem)
}

// NewConfigurationCorruptError is used when calibration data cannot be decoded at all.
func NewConfigurationCorruptError(source string, cause error) error {
	return NewError(ErrConfigurationCorrupt, cause, "cannot decode calibration from %q", source)
}

// NewDimensionMismatchError is used when two images that must agree in size do not.
func NewDimensionMismatchError(what string, expected, actual image.Point) error {
	return NewError(ErrDimensionMismatch, nil, "%s: expected %dx%d but got %dx%d",
		what, expected.X, expected.Y, actual.X, actual.Y)
}

// NewRectificationFailedError is used when a frame cannot be rectified.
func NewRectificationFailedError(cause error, format string, args ...interface{}) error {
	return NewError(ErrRectificationFailed, cause, format, args...)
}

// NewUnsupportedImageFormatError is used when an image encoding has no grayscale conversion.
func NewUnsupportedImageFormatError(img interface{}) error {
	return NewError(ErrUnsupportedImageFormat, nil, "cannot convert %T", img)
}

// NewIOError is used for read and write failures of calibration and image files.
func NewIOError(path string, cause error) error {
	return NewError(ErrIO, cause, "%q", path)
}

// NewMatcherFailureError wraps an error signaled by the external matcher.
func NewMatcherFailureError(cause error) error {
	return NewError(ErrMatcherFailure, cause, "matcher returned an error")
}
