// Package mjpegtest provides a fake multipart camera for tests.
package mjpegtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultBoundary = "myboundary"

// Server streams numbered JPEG-like parts to every client. Part i is
// written as Part(i) and parts are numbered from 0 on each connection.
type Server struct {
	*httptest.Server

	Boundary string
	// Interval between parts.
	Interval time.Duration
	// MaxParts ends each response after that many parts; 0 streams until
	// the client goes away.
	MaxParts int

	connections atomic.Int32
	active      atomic.Int32
	quit        chan struct{}
	die         sync.Once
}

func NewServer(interval time.Duration, maxParts int) *Server {
	s := &Server{
		Boundary: DefaultBoundary,
		Interval: interval,
		MaxParts: maxParts,
		quit:     make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.connections.Add(1)
	s.active.Add(1)
	defer s.active.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+s.Boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Add("X-Camera", "one")
	w.Header().Add("X-Camera", "two")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for i := 0; s.MaxParts == 0 || i < s.MaxParts; i++ {
		if _, err := w.Write(s.Part(i)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		select {
		case <-r.Context().Done():
			return
		case <-s.quit:
			return
		case <-time.After(s.Interval):
		}
	}
	// Close the stream with a final boundary so the last part completes.
	_, _ = w.Write([]byte(s.BoundaryLine()))
}

// Body returns the payload of part i. It contains '\n' bytes so the part
// spans several lines.
func (s *Server) Body(i int) []byte {
	return []byte(fmt.Sprintf("\xff\xd8JFIF frame %d\n\x00\x01\x02\n\xff\xd9", i))
}

// Part returns the exact bytes of part i, which is also the frame the
// decoder publishes for it.
func (s *Server) Part(i int) []byte {
	body := s.Body(i)
	header := fmt.Sprintf("%sContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", s.BoundaryLine(), len(body))
	part := append([]byte(header), body...)
	return append(part, '\r', '\n')
}

func (s *Server) BoundaryLine() string {
	return "--" + s.Boundary + "\r\n"
}

// Connections counts requests served so far.
func (s *Server) Connections() int {
	return int(s.connections.Load())
}

// Active counts responses still streaming.
func (s *Server) Active() int {
	return int(s.active.Load())
}

func (s *Server) Close() {
	s.die.Do(func() {
		close(s.quit)
	})
	s.Server.Close()
}
