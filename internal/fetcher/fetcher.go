// Package fetcher drives the external media downloader (yt-dlp) as a
// subprocess and reports its progress.
package fetcher

//go:generate mockgen -source=fetcher.go -destination=mocks/fetcher_mock.go -package=mocks

import (
	"context"
	"fmt"
	"strings"
)

// Request describes one download attempt.
type Request struct {
	URL       string
	OutputDir string
	Format    Format
	Playlist  bool
}

// Result is what a successful attempt produced.
type Result struct {
	OutputFile string
}

// Fetcher downloads media and probes metadata. Implementations must stop
// promptly when ctx is cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, onProgress func(percent float64)) (Result, error)
	Probe(ctx context.Context, url string) ([]byte, error)
}

// ExitError reports a downloader run that exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	if msg == "" {
		return fmt.Sprintf("downloader exited with code %d", e.Code)
	}
	return fmt.Sprintf("downloader exited with code %d: %s", e.Code, msg)
}
