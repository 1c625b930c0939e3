package api

import (
	"net/url"

	"github.com/pkg/errors"
)

// SourceUrl is an upstream MJPEG location supplied by a viewer.
type SourceUrl url.URL

var ErrInvalidSourceUrl = errors.New("invalid source url")

// ParseSourceUrl accepts absolute http and https urls only.
func ParseSourceUrl(raw string) (*SourceUrl, error) {
	if raw == "" {
		return nil, errors.Wrap(ErrInvalidSourceUrl, "empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSourceUrl, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Wrapf(ErrInvalidSourceUrl, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Wrap(ErrInvalidSourceUrl, "missing host")
	}
	return (*SourceUrl)(u), nil
}

func (p *SourceUrl) String() string {
	return (*url.URL)(p).String()
}
