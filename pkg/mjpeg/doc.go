// Package mjpeg decodes a multipart/x-mixed-replace stream into whole frames.
//
// A Source holds one upstream HTTP connection. Its decoder reads the body one
// byte at a time, splits it into '\n' terminated lines and groups the lines
// into frames delimited by the boundary line taken from the response
// Content-Type. Only the most recent frame is kept; readers fetch it with
// GetFrame, which waits a bounded time when no frame is available yet.
package mjpeg
