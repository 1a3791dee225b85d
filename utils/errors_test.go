package utils

import (
	"errors"
	"image"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"go.viam.com/test"
)

func TestErrorKinds(t *testing.T) {
	dimErr := NewDimensionMismatchError("right frame", image.Pt(640, 480), image.Pt(641, 480))
	test.That(t, errors.Is(dimErr, ErrDimensionMismatch), test.ShouldBeTrue)
	test.That(t, errors.Is(dimErr, ErrRectificationFailed), test.ShouldBeFalse)
	test.That(t, dimErr.Error(), test.ShouldContainSubstring, "expected 640x480 but got 641x480")

	rectErr := NewRectificationFailedError(dimErr, "frame does not match calibration")
	test.That(t, errors.Is(rectErr, ErrRectificationFailed), test.ShouldBeTrue)
	test.That(t, errors.Is(rectErr, ErrDimensionMismatch), test.ShouldBeTrue)
	test.That(t, errors.Is(rectErr, ErrConfigurationCorrupt), test.ShouldBeFalse)

	wrapped := pkgerrors.Wrap(NewConfigurationFieldError("d21", "is missing"), "loading left camera")
	test.That(t, errors.Is(wrapped, ErrConfigurationCorrupt), test.ShouldBeTrue)
	test.That(t, wrapped.Error(), test.ShouldContainSubstring, `field "d21" is missing`)

	var tagged *Error
	test.That(t, errors.As(wrapped, &tagged), test.ShouldBeTrue)
	test.That(t, tagged.Kind, test.ShouldEqual, ErrConfigurationCorrupt)
}

func TestIOErrorKeepsCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := NewIOError("/root/calib.yaml", cause)
	test.That(t, errors.Is(err, ErrIO), test.ShouldBeTrue)
	test.That(t, errors.Is(err, cause), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "/root/calib.yaml")
}
