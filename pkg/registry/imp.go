package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
	log "github.com/sirupsen/logrus"
)

// entry is the registry side of one Source. refs and source are guarded by
// registryImpl.mux; ready is closed once the connect attempt has finished.
type entry struct {
	url    string
	refs   int
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	source *mjpeg.Source
	err    error
}

func (e *entry) stopped() bool {
	return e.source != nil && e.source.State() == mjpeg.StateStopped
}

type registryImpl struct {
	sources map[string]*entry
	mux     sync.Mutex
	closed  bool

	opts   mjpeg.Options
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *registryImpl) Acquire(ctx context.Context, url string) (*Handle, error) {
	r.mux.Lock()
	if r.closed {
		r.mux.Unlock()
		return nil, ErrRegistryClosed
	}
	e, ok := r.sources[url]
	if ok && e.stopped() {
		// The upstream ended while viewers were still attached. Their
		// handles keep the old entry; new viewers get a fresh connection.
		delete(r.sources, url)
		e.cancel()
		ok = false
	}
	if ok {
		e.refs++
		r.mux.Unlock()
		return r.await(ctx, e)
	}

	e = r.newEntry(url)
	r.sources[url] = e
	r.mux.Unlock()

	log.Printf("Connecting source %s", url)
	source, err := mjpeg.Connect(e.ctx, url, r.opts)

	r.mux.Lock()
	switch {
	case err != nil:
		e.err = err
		e.refs = 0
		if r.sources[url] == e {
			delete(r.sources, url)
		}
	case e.refs <= 0:
		e.err = ErrReleased
	default:
		e.source = source
		source.Start()
	}
	r.mux.Unlock()
	close(e.ready)

	if e.err != nil {
		e.cancel()
		if source != nil {
			_ = source.Close()
		}
		log.Printf("Failed to acquire source %s: %v", url, e.err)
		return nil, e.err
	}
	return newHandle(r, e), nil
}

func (r *registryImpl) await(ctx context.Context, e *entry) (*Handle, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		r.releaseEntry(e)
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return newHandle(r, e), nil
}

func (r *registryImpl) newEntry(url string) *entry {
	ctx, cancel := context.WithCancel(r.ctx)
	return &entry{
		url:    url,
		refs:   1,
		ctx:    ctx,
		cancel: cancel,
		ready:  make(chan struct{}),
	}
}

func (r *registryImpl) Release(url string) {
	r.mux.Lock()
	e, ok := r.sources[url]
	r.mux.Unlock()
	if !ok {
		return
	}
	r.releaseEntry(e)
}

func (r *registryImpl) releaseEntry(e *entry) {
	r.mux.Lock()
	if e.refs <= 0 {
		r.mux.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mux.Unlock()
		return
	}
	if r.sources[e.url] == e {
		delete(r.sources, e.url)
	}
	r.mux.Unlock()

	e.cancel()
	log.Printf("Source %s has no viewers, stopping", e.url)
}

func (r *registryImpl) GetSources() ([]*SourceStatus, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	statuses := make([]*SourceStatus, 0, len(r.sources))
	for _, e := range r.sources {
		statuses = append(statuses, statusOf(e))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Url < statuses[j].Url
	})
	return statuses, nil
}

func (r *registryImpl) GetStatus(url string) (*SourceStatus, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if e, ok := r.sources[url]; ok {
		return statusOf(e), nil
	}
	return nil, SourceNotFound{Url: url}
}

func statusOf(e *entry) *SourceStatus {
	if e.source == nil {
		return &SourceStatus{
			Url:     e.url,
			State:   mjpeg.StateConnecting.String(),
			Viewers: e.refs,
		}
	}
	stats := e.source.Stats()
	status := &SourceStatus{
		Url:     e.url,
		State:   e.source.State().String(),
		Viewers: e.refs,
		Frames:  stats.Frames,
		Bitrate: stats.Bitrate,
	}
	if !stats.LastFrameTime.IsZero() {
		status.IsLive = time.Since(stats.LastFrameTime) < 3*time.Second
		status.LastFrameTime = stats.LastFrameTime.Unix()
	}
	return status
}

// Close stops every source and waits until their connections are closed.
// Acquire fails with ErrRegistryClosed afterwards.
func (r *registryImpl) Close() error {
	r.mux.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.sources))
	for _, e := range r.sources {
		entries = append(entries, e)
	}
	r.sources = make(map[string]*entry)
	r.mux.Unlock()

	r.cancel()

	var result error
	for _, e := range entries {
		<-e.ready
		r.mux.Lock()
		source := e.source
		r.mux.Unlock()
		if source == nil {
			continue
		}
		if err := source.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func NewRegistry(opts mjpeg.Options) Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &registryImpl{
		sources: make(map[string]*entry),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}
