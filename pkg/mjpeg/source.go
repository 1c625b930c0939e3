package mjpeg

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultFrameBufferSize = 10240 // 10KB
	DefaultConnectTimeout  = 5 * time.Second
	DefaultReadTimeout     = time.Second
	DefaultRetryAttempts   = 3
	DefaultRetryDelay      = 100 * time.Millisecond

	readBufferSize = 32 * 1024
)

type Options struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	FrameBufferSize int
	MaxLineSize     int
	RetryAttempts   int
	RetryDelay      time.Duration
	Client          *http.Client
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.FrameBufferSize <= 0 {
		o.FrameBufferSize = DefaultFrameBufferSize
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Client == nil {
		o.Client = defaultClient
	}
	return o
}

// DeliveryBudget is how long GetFrame waits for a frame before giving up.
func (o Options) DeliveryBudget() time.Duration {
	return time.Duration(o.RetryAttempts) * o.RetryDelay
}

var defaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DisableCompression:    true,
		ExpectContinueTimeout: time.Second,
	},
}

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Stats struct {
	Frames        uint64
	Bytes         uint64
	StartedAt     time.Time
	LastFrameTime time.Time
	// Bitrate in kbit/s averaged since the source started streaming.
	Bitrate uint
}

// Source owns one upstream multipart connection and the goroutine decoding
// it into frames. Stop (or cancelling the Connect context) ends the decoder;
// after that the frame cache is empty and the Source cannot be restarted.
type Source struct {
	url      string
	headers  http.Header
	boundary []byte
	opts     Options

	body     io.ReadCloser
	reader   *idleReader
	ctx      context.Context
	cancel   context.CancelFunc
	stopRead context.CancelFunc
	cache    *FrameCache

	state     atomic.Int32
	startOnce sync.Once
	done      chan struct{}
	err       error
	closeErr  error

	startedAt     time.Time
	frames        atomic.Uint64
	bytes         atomic.Uint64
	lastFrameTime atomic.Int64

	log *log.Entry
}

// Connect opens the upstream stream. The returned Source is Connecting until
// Start is called. ctx bounds the whole lifetime of the Source.
func Connect(ctx context.Context, url string, opts Options) (*Source, error) {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	reqCtx, stopRead := context.WithCancel(ctx)

	reader := newIdleReader(opts.ConnectTimeout, stopRead)
	fail := func(err error) (*Source, error) {
		reader.timer.Stop()
		stopRead()
		cancel()
		return nil, &SourceConnectionError{Url: url, Err: err}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fail(errors.Wrap(err, "create request"))
	}
	resp, err := opts.Client.Do(req)
	if err != nil {
		if reader.fired.Load() {
			err = errReadTimeout
		}
		return fail(errors.Wrap(err, "http request"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return fail(errors.Errorf("unexpected status: %d", resp.StatusCode))
	}

	reader.r = resp.Body
	reader.timeout = opts.ReadTimeout
	reader.timer.Reset(opts.ReadTimeout)

	s := &Source{
		url:       url,
		headers:   resp.Header.Clone(),
		boundary:  BoundaryFromContentType(resp.Header.Get("Content-Type")),
		opts:      opts,
		body:      resp.Body,
		reader:    reader,
		ctx:       ctx,
		cancel:    cancel,
		stopRead:  stopRead,
		cache:     NewFrameCache(),
		done:      make(chan struct{}),
		startedAt: time.Now(),
		log:       log.WithField("source", url),
	}
	s.state.Store(int32(StateConnecting))
	if s.boundary == nil {
		s.log.Warnf("Content-Type %q has no boundary, no frame will be published", resp.Header.Get("Content-Type"))
	}
	return s, nil
}

// Start launches the decoder goroutine. Calling it again is a no-op.
func (s *Source) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop signals the decoder to exit without waiting for it.
func (s *Source) Stop() {
	s.cancel()
}

// Close stops the decoder and waits until the upstream connection is
// released.
func (s *Source) Close() error {
	s.cancel()
	s.Start()
	<-s.done
	return s.closeErr
}

func (s *Source) run() {
	defer s.finish()
	if s.ctx.Err() != nil {
		return
	}
	s.state.Store(int32(StateStreaming))
	s.log.Printf("Streaming, boundary %q", s.boundary)

	br := bufio.NewReaderSize(s.reader, readBufferSize)
	parser := NewFrameParser(s.boundary, s.opts.FrameBufferSize, s.opts.MaxLineSize, s.publish)
	for {
		if s.ctx.Err() != nil {
			return
		}
		c, err := br.ReadByte()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				s.log.Printf("Upstream ended")
				return
			}
			s.err = errors.Wrap(err, "read upstream")
			s.log.Errorf("Upstream read error: %v", err)
			return
		}
		if err := parser.WriteByte(c); err != nil {
			s.err = err
			s.log.Errorf("Decoder stopped: %v", err)
			return
		}
	}
}

func (s *Source) publish(lines [][]byte) {
	f := s.cache.Publish(lines)
	s.frames.Add(1)
	s.bytes.Add(uint64(f.Len()))
	s.lastFrameTime.Store(f.Time.UnixNano())
}

func (s *Source) finish() {
	s.reader.timer.Stop()
	s.stopRead()
	s.closeErr = s.body.Close()
	s.cache.Clear()
	s.state.Store(int32(StateStopped))
	close(s.done)
	s.log.Printf("Stopped after %d frames", s.frames.Load())
}

// GetFrame returns the latest complete frame, waiting at most the delivery
// budget for one to appear.
func (s *Source) GetFrame(ctx context.Context) (*Frame, error) {
	return s.cache.Get(ctx, s.opts.DeliveryBudget())
}

func (s *Source) Url() string {
	return s.url
}

// Headers returns a copy of the upstream response headers.
func (s *Source) Headers() http.Header {
	return s.headers.Clone()
}

func (s *Source) Boundary() []byte {
	return s.boundary
}

func (s *Source) State() State {
	return State(s.state.Load())
}

func (s *Source) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the decoder. It is nil while the decoder
// runs and after a clean end of stream or Stop.
func (s *Source) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Source) Stats() Stats {
	st := Stats{
		Frames:    s.frames.Load(),
		Bytes:     s.bytes.Load(),
		StartedAt: s.startedAt,
	}
	if ns := s.lastFrameTime.Load(); ns != 0 {
		st.LastFrameTime = time.Unix(0, ns)
	}
	if since := time.Since(s.startedAt).Seconds(); since > 0 {
		st.Bitrate = uint(float64(st.Bytes) / since / 128)
	}
	return st
}

// idleReader cancels the upstream request when no byte arrives for timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newIdleReader(timeout time.Duration, onIdle func()) *idleReader {
	ir := &idleReader{timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.fired.Store(true)
		onIdle()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	if err != nil && ir.fired.Load() {
		err = errReadTimeout
	}
	return n, err
}
