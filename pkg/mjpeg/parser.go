package mjpeg

import (
	"bytes"
	"mime"
	"strings"
)

// BoundaryFromContentType builds the boundary line ("--" + token + CRLF) from a
// multipart Content-Type. It returns nil when the header carries no boundary
// parameter; a nil marker never matches any line.
func BoundaryFromContentType(contentType string) []byte {
	token := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		token = params["boundary"]
	} else if i := strings.Index(contentType, "boundary="); i >= 0 {
		token = contentType[i+len("boundary="):]
		if j := strings.IndexByte(token, ';'); j >= 0 {
			token = token[:j]
		}
		token = strings.Trim(strings.TrimSpace(token), `"`)
	}
	if token == "" {
		return nil
	}
	return []byte("--" + token + "\r\n")
}

// FrameParser groups a byte stream into lines and lines into frames. A frame
// starts at a boundary line and ends right before the next one. Lines seen
// before the first boundary are dropped.
type FrameParser struct {
	boundary []byte
	maxLine  int
	onFrame  func(lines [][]byte)

	line  []byte
	frame [][]byte
}

// NewFrameParser returns a parser calling onFrame for every completed frame.
// lineCap is the initial line buffer capacity; maxLine caps a single line
// (0 means no cap).
func NewFrameParser(boundary []byte, lineCap, maxLine int, onFrame func(lines [][]byte)) *FrameParser {
	if lineCap <= 0 {
		lineCap = DefaultFrameBufferSize
	}
	return &FrameParser{
		boundary: boundary,
		maxLine:  maxLine,
		onFrame:  onFrame,
		line:     make([]byte, 0, lineCap),
	}
}

func (p *FrameParser) WriteByte(c byte) error {
	if p.maxLine > 0 && len(p.line) >= p.maxLine {
		return ErrLineTooLong
	}
	p.line = append(p.line, c)
	if c != '\n' {
		return nil
	}

	line := bytes.Clone(p.line)
	p.line = p.line[:0]

	isBoundary := p.boundary != nil && bytes.Equal(line, p.boundary)
	if isBoundary && len(p.frame) > 0 {
		p.onFrame(p.frame)
		p.frame = nil
	}
	if len(p.frame) == 0 && !isBoundary {
		return nil
	}
	p.frame = append(p.frame, line)
	return nil
}

func (p *FrameParser) Write(b []byte) (int, error) {
	for i, c := range b {
		if err := p.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(b), nil
}

// Pending reports the number of lines in the frame being built.
func (p *FrameParser) Pending() int {
	return len(p.frame)
}
