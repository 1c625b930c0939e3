package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/mjpeg/mjpegtest"
	"github.com/kbats183/simple-mjpeg-restreamer/pkg/registry"
)

func newTestServer(t *testing.T, config ServerConfig) (*httptest.Server, registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(mjpeg.Options{})
	web := NewWebServer(config, reg)
	srv := httptest.NewServer(web.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Close()
	})
	return srv, reg
}

func videoURL(srv *httptest.Server, upstream string) string {
	return srv.URL + "/api/mjpeg-proxy/camera-video?url=" + url.QueryEscape(upstream)
}

func waitEvicted(t *testing.T, reg registry.Registry, upstream string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := reg.GetStatus(upstream); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("source %s still registered", upstream)
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestCameraVideo_StreamsFrames(t *testing.T) {
	cam := mjpegtest.NewServer(10*time.Millisecond, 0)
	defer cam.Close()
	srv, reg := newTestServer(t, ServerConfig{FrameInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, videoURL(srv, cam.URL), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "boundary="+cam.Boundary) {
		t.Errorf("upstream Content-Type not forwarded: %q", ct)
	}
	if got := resp.Header.Values("X-Camera"); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("expected forwarded header values in order, got %v", got)
	}

	mr := multipart.NewReader(resp.Body, cam.Boundary)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
		if part.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("part %d: unexpected Content-Type %q", i, part.Header.Get("Content-Type"))
		}
		body, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("part %d: read body: %v", i, err)
		}
		if !bytes.HasPrefix(body, []byte("\xff\xd8JFIF frame ")) || !bytes.HasSuffix(body, []byte("\xff\xd9")) {
			t.Errorf("part %d: body is not a whole frame: %q", i, body)
		}
		if seen[string(body)] {
			t.Errorf("part %d: frame sent twice", i)
		}
		seen[string(body)] = true
	}

	status, err := reg.GetStatus(cam.URL)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Viewers != 1 {
		t.Errorf("expected 1 viewer, got %d", status.Viewers)
	}

	cancel()
	waitEvicted(t, reg, cam.URL)
}

func TestCameraVideo_SharesUpstream(t *testing.T) {
	cam := mjpegtest.NewServer(10*time.Millisecond, 0)
	defer cam.Close()
	srv, reg := newTestServer(t, ServerConfig{FrameInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, videoURL(srv, cam.URL), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("viewer %d: request failed: %v", i, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("viewer %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	if cam.Connections() != 1 {
		t.Errorf("expected 1 upstream connection, got %d", cam.Connections())
	}
	status, err := reg.GetStatus(cam.URL)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Viewers != 3 {
		t.Errorf("expected 3 viewers, got %d", status.Viewers)
	}

	cancel()
	waitEvicted(t, reg, cam.URL)
}

func TestCameraVideo_EndsWhenUpstreamEnds(t *testing.T) {
	cam := mjpegtest.NewServer(5*time.Millisecond, 5)
	defer cam.Close()
	srv, reg := newTestServer(t, ServerConfig{FrameInterval: 5 * time.Millisecond})

	resp, err := http.Get(videoURL(srv, cam.URL))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("stream ended with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("viewer stream did not end")
	}
	waitEvicted(t, reg, cam.URL)
}

func TestCameraVideo_Errors(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()
	srv, reg := newTestServer(t, ServerConfig{})

	cases := []struct {
		name   string
		target string
		code   int
	}{
		{"missing url", srv.URL + "/api/mjpeg-proxy/camera-video", http.StatusBadRequest},
		{"bad scheme", videoURL(srv, "ftp://cam/stream"), http.StatusBadRequest},
		{"upstream down", videoURL(srv, unavailable.URL), http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(tc.target)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.code {
				t.Errorf("expected %d, got %d", tc.code, resp.StatusCode)
			}
			if msg := decodeError(t, resp); msg == "" {
				t.Error("expected an error message")
			}
		})
	}

	if sources, _ := reg.GetSources(); len(sources) != 0 {
		t.Errorf("expected no sources, got %d", len(sources))
	}
}

func TestSources_ListAndStatus(t *testing.T) {
	cam := mjpegtest.NewServer(10*time.Millisecond, 0)
	defer cam.Close()
	srv, reg := newTestServer(t, ServerConfig{})

	h, err := reg.Acquire(context.Background(), cam.URL)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer h.Release()

	resp, err := http.Get(srv.URL + "/api/sources/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	var list []registry.SourceStatus
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Url != cam.URL || list[0].Viewers != 1 {
		t.Errorf("unexpected source list %+v", list)
	}

	resp, err = http.Get(srv.URL + "/api/sources/status?url=" + url.QueryEscape("http://unknown/cam"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSources_BasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{AuthUser: "admin", AuthPass: "secret"})

	resp, err := http.Get(srv.URL + "/api/sources/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/sources/", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, ServerConfig{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK {
		t.Error("expected ok")
	}
}

func TestCopyHeaders_SkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Content-Type", "multipart/x-mixed-replace;boundary=b")
	src.Add("Connection", "keep-alive")
	src.Add("Content-Length", "10")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	copyHeaders(dst, src)

	if dst.Get("Connection") != "" || dst.Get("Content-Length") != "" {
		t.Errorf("hop-by-hop headers copied: %v", dst)
	}
	if got := dst.Values("Set-Cookie"); len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Errorf("expected ordered Set-Cookie values, got %v", got)
	}
	if dst.Get("Content-Type") == "" {
		t.Error("Content-Type not copied")
	}
}
