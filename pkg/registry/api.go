package registry

import (
	"context"
)

type SourceStatus struct {
	Url           string `json:"url"`
	State         string `json:"state"`
	Viewers       int    `json:"viewers"`
	IsLive        bool   `json:"is_live"`
	Frames        uint64 `json:"frames"`
	Bitrate       uint   `json:"bitrate"`
	LastFrameTime int64  `json:"last_frame_time"`
}

// Registry keeps at most one upstream Source per url, shared by every viewer
// that acquired it. A Source lives while at least one viewer references it.
type Registry interface {
	Acquire(ctx context.Context, url string) (*Handle, error)
	Release(url string)
	GetSources() ([]*SourceStatus, error)
	GetStatus(url string) (*SourceStatus, error)
	Close() error
}
