package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/registry"
	log "github.com/sirupsen/logrus"
)

// viewer copies frames of one shared source to one HTTP response.
type viewer struct {
	id       string
	handle   *registry.Handle
	w        http.ResponseWriter
	flusher  http.Flusher
	interval time.Duration
	lastSeq  uint64
	log      *log.Entry
}

func newViewer(id string, handle *registry.Handle, w http.ResponseWriter, interval time.Duration) *viewer {
	flusher, _ := w.(http.Flusher)
	return &viewer{
		id:       id,
		handle:   handle,
		w:        w,
		flusher:  flusher,
		interval: interval,
		log:      log.WithFields(log.Fields{"source": handle.Url(), "viewer": id}),
	}
}

// sendFrame writes f unless it was already sent to this viewer.
func (v *viewer) sendFrame(f *mjpeg.Frame) error {
	if f.Seq == v.lastSeq {
		return nil
	}
	if _, err := f.WriteTo(v.w); err != nil {
		return err
	}
	if v.flusher != nil {
		v.flusher.Flush()
	}
	v.lastSeq = f.Seq
	return nil
}

// sendToClient streams until a write fails, no frame arrives within the
// delivery budget or ctx ends, and returns the reason.
func (v *viewer) sendToClient(ctx context.Context) error {
	pace := time.NewTicker(v.interval)
	defer pace.Stop()

	for {
		frame, err := v.handle.GetFrame(ctx)
		if err != nil {
			return err
		}
		if err := v.sendFrame(frame); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pace.C:
		}
	}
}
