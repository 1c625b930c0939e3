package registry

import (
	"errors"
	"fmt"
)

var (
	SourceNotExist = "SourceNotExist"

	ErrRegistryClosed = errors.New("registry closed")
	// ErrReleased is returned to an Acquire whose source lost every
	// reference before the upstream connection was established.
	ErrReleased = errors.New("source released while connecting")
)

type SourceNotFound struct {
	Url string
}

func (e SourceNotFound) Error() string {
	return fmt.Sprintf("%s: %s", SourceNotExist, e.Url)
}
