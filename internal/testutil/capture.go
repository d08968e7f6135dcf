package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

var ErrDenied = errors.New("permission denied")

type Stream struct {
	tracks []*Track
}

func (s *Stream) Tracks() []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Capturer hands out Tracks and records every track it produced.
type Capturer struct {
	Owner domain.UserID

	mu sync.Mutex
	// AudioFailures makes the first n CaptureAudio calls fail.
	AudioFailures int
	DisplayErr    error
	CameraErr     error
	attempts      []string
	tracks        []*Track
	seq           int
}

func NewCapturer(owner domain.UserID) *Capturer {
	return &Capturer{Owner: owner}
}

func (c *Capturer) CaptureAudio(ctx context.Context, cons core.AudioConstraints) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, cons.Name)
	if c.AudioFailures > 0 {
		c.AudioFailures--
		return nil, fmt.Errorf("audio %s: %w", cons.Name, ErrDenied)
	}
	return c.newStreamLocked(NewAudioTrack(c.nextIDLocked("mic"))), nil
}

func (c *Capturer) CaptureShare(ctx context.Context, kind core.ShareKind) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, string(kind))
	switch kind {
	case core.ShareScreen:
		if c.DisplayErr != nil {
			return nil, c.DisplayErr
		}
	case core.ShareCamera:
		if c.CameraErr != nil {
			return nil, c.CameraErr
		}
	}
	return c.newStreamLocked(NewVideoTrack(c.nextIDLocked(string(kind)))), nil
}

func (c *Capturer) nextIDLocked(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%s-%d", prefix, c.Owner, c.seq)
}

func (c *Capturer) newStreamLocked(tracks ...*Track) *Stream {
	c.tracks = append(c.tracks, tracks...)
	return &Stream{tracks: tracks}
}

func (c *Capturer) Attempts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attempts...)
}

// Tracks returns every track captured so far.
func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}

// LiveTracks returns captured tracks that have not been stopped.
func (c *Capturer) LiveTracks() []*Track {
	var out []*Track
	for _, t := range c.Tracks() {
		if t.Live() {
			out = append(out, t)
		}
	}
	return out
}
