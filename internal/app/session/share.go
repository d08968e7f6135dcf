package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

// StartShare captures a screen (falling back to the camera) or camera stream
// and attaches it to every peer. A capture failure leaves any current share
// untouched.
func (s *Session) StartShare(ctx context.Context, kind core.ShareKind) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.startShareLocked(ctx, kind)
}

func (s *Session) startShareLocked(ctx context.Context, kind core.ShareKind) error {
	rt := s.current()
	if rt == nil {
		return domain.ErrNotActive
	}
	stream, used, err := s.captureShare(ctx, kind)
	if err != nil {
		s.setLastErr(err)
		return err
	}

	old := rt.share
	if old != nil {
		close(rt.shareDone)
	}
	rt.share, rt.shareKind, rt.shareDone = stream, used, make(chan struct{})
	err = rt.loop.Do(ctx, func() {
		if old != nil {
			rt.mgr.DetachShare(false)
		}
		rt.mgr.AttachShare(stream.Tracks())
	})
	if old != nil {
		old.Stop()
	}
	if err != nil {
		close(rt.shareDone)
		rt.share, rt.shareKind = nil, ""
		s.setSharing("")
		stream.Stop()
		return err
	}
	s.setSharing(used)
	go s.watchShare(rt, stream, rt.shareDone)
	s.log.Info().Str("kind", string(used)).Int("tracks", len(stream.Tracks())).Msg("share started")
	return nil
}

func (s *Session) captureShare(ctx context.Context, kind core.ShareKind) (core.LocalStream, core.ShareKind, error) {
	stream, err := s.capture.CaptureShare(ctx, kind)
	if err != nil && kind == core.ShareScreen {
		s.log.Warn().Err(err).Msg("display capture failed, trying camera")
		var camErr error
		if stream, camErr = s.capture.CaptureShare(ctx, core.ShareCamera); camErr == nil {
			return stream, core.ShareCamera, nil
		}
		err = errors.Join(err, camErr)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s share: %w", domain.ErrCapture, kind, err)
	}
	if len(stream.Tracks()) == 0 {
		stream.Stop()
		return nil, "", fmt.Errorf("%w: %s share has no tracks", domain.ErrCapture, kind)
	}
	return stream, kind, nil
}

// watchShare tears the share down when any of its tracks ends on its own,
// for example when the user stops sharing from the OS.
func (s *Session) watchShare(rt *runtime, stream core.LocalStream, done <-chan struct{}) {
	ended := make(chan struct{}, 1)
	for _, t := range stream.Tracks() {
		go func(t core.LocalTrack) {
			select {
			case <-t.Done():
				select {
				case ended <- struct{}{}:
				default:
				}
			case <-done:
			}
		}(t)
	}
	select {
	case <-done:
		return
	case <-rt.ctx.Done():
		return
	case <-ended:
	}

	s.op.Lock()
	defer s.op.Unlock()
	if s.current() != rt || rt.share != stream {
		return
	}
	kind := rt.shareKind
	s.log.Info().Str("kind", string(kind)).Msg("share track ended")
	s.stopShareLocked(context.Background(), true)
	if kind == core.ShareScreen && s.cfg.AutoCameraFallback {
		if err := s.startShareLocked(context.Background(), core.ShareCamera); err != nil {
			s.log.Warn().Err(err).Msg("camera fallback failed")
		}
	}
}

// StopShare removes the share tracks from every peer, renegotiates and stops
// the capture. No-op when nothing is shared.
func (s *Session) StopShare(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.current() == nil {
		return nil
	}
	s.stopShareLocked(ctx, true)
	return nil
}

func (s *Session) stopShareLocked(ctx context.Context, renegotiate bool) {
	rt := s.current()
	if rt == nil || rt.share == nil {
		return
	}
	stream := rt.share
	close(rt.shareDone)
	rt.share, rt.shareKind = nil, ""
	s.setSharing("")
	if err := rt.loop.Do(context.WithoutCancel(ctx), func() { rt.mgr.DetachShare(renegotiate) }); err != nil {
		s.log.Debug().Err(err).Msg("detach share")
	}
	stream.Stop()
	s.log.Info().Msg("share stopped")
}

// Sharing returns the kind of the active outbound share, or "".
func (s *Session) Sharing() core.ShareKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sharing
}

func (s *Session) setSharing(k core.ShareKind) {
	s.mu.Lock()
	s.sharing = k
	s.mu.Unlock()
}
