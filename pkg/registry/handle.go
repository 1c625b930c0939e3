package registry

import (
	"context"
	"net/http"
	"sync"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
)

// Handle is a viewer's reference to a shared Source. It must be released
// exactly once; extra Release calls are ignored.
type Handle struct {
	registry *registryImpl
	entry    *entry
	source   *mjpeg.Source
	once     sync.Once
}

func newHandle(r *registryImpl, e *entry) *Handle {
	return &Handle{registry: r, entry: e, source: e.source}
}

func (h *Handle) Url() string {
	return h.entry.url
}

// Headers returns the upstream response headers captured at connect time.
func (h *Handle) Headers() http.Header {
	return h.source.Headers()
}

func (h *Handle) GetFrame(ctx context.Context) (*mjpeg.Frame, error) {
	return h.source.GetFrame(ctx)
}

// Done is closed when the underlying source has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.source.Done()
}

func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.releaseEntry(h.entry)
	})
}
