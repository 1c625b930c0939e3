package mjpeg

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrFrameNotAvailable is returned by GetFrame when no frame was
	// published within the delivery budget.
	ErrFrameNotAvailable = errors.New("frame not available")

	// ErrLineTooLong terminates a source whose stream carries a line longer
	// than Options.MaxLineSize.
	ErrLineTooLong = errors.New("line too long")

	errReadTimeout = errors.New("upstream read timeout")
)

// SourceConnectionError reports that the upstream could not be reached or
// answered with something other than a readable stream.
type SourceConnectionError struct {
	Url string
	Err error
}

func (e *SourceConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Url, e.Err)
}

func (e *SourceConnectionError) Unwrap() error {
	return e.Err
}
