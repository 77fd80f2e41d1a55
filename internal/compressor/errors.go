package compressor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidWindow is returned when the requested size window is not 0 < min <= max.
var ErrInvalidWindow = errors.New("invalid size window")

// ErrOutputConflict is reported for a batch source whose output path is
// already taken by an earlier source in the same run.
var ErrOutputConflict = errors.New("output path already used by another source")

// DecodeError means the source bytes are not a readable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode source image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError means the encoder failed or produced no output for an attempt.
type EncodeError struct {
	Quality float64
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode at quality %.2f: %v", e.Quality, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// SizeConstraintError is returned when every attempt stayed above MaxSizeKB.
type SizeConstraintError struct {
	MinSizeKB  float64
	MaxSizeKB  float64
	Attempts   int
	LastSizeKB float64
}

func (e *SizeConstraintError) Error() string {
	return fmt.Sprintf("could not compress image into %g-%g KB after %d attempts (last %.1f KB), try a different image",
		e.MinSizeKB, e.MaxSizeKB, e.Attempts, e.LastSizeKB)
}

// IsDecodeError reports whether err was caused by a DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// IsEncodeError reports whether err was caused by an EncodeError.
func IsEncodeError(err error) bool {
	var target *EncodeError
	return errors.As(err, &target)
}

// IsSizeConstraint reports whether err was caused by a SizeConstraintError.
func IsSizeConstraint(err error) bool {
	var target *SizeConstraintError
	return errors.As(err, &target)
}

func invalidWindow(minKB, maxKB float64) error {
	return errors.Wrapf(ErrInvalidWindow, "min=%g max=%g", minKB, maxKB)
}
