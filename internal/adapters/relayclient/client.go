// Package relayclient talks to the directory service and the signal relay
// over HTTP. It implements core.Directory, core.SignalRelay and, when push is
// enabled, core.SignalNotifier.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Push opens a websocket stream on the first Query of a room and wakes
	// Notify for every signal addressed to the recipient.
	Push bool
	// Timeout bounds every request. Zero means 10s.
	Timeout time.Duration
	// RetryMin and RetryMax bound the push reconnect backoff.
	RetryMin time.Duration
	RetryMax time.Duration
}

type Client struct {
	base *url.URL
	http *http.Client
	jar  http.CookieJar
	opts Options
	log  zerolog.Logger

	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	stream *pushStream
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("relay url %q: scheme must be http or https", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryMin <= 0 {
		opts.RetryMin = 250 * time.Millisecond
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		base:   u,
		http:   &http.Client{Jar: jar, Timeout: opts.Timeout},
		jar:    jar,
		opts:   opts,
		log:    log.With().Str("module", "adapters.relayclient").Str("relay", u.Host).Logger(),
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Close stops the push stream. The client stays usable for plain requests.
func (c *Client) Close() {
	c.stopStream()
	c.cancel()
}

func roomPath(room domain.RoomKey, rest ...string) string {
	parts := append([]string{"api", "rooms", string(room)}, rest...)
	return "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode: %w", domain.ErrTransport, op, err)
	}
	return nil
}

var ErrRateLimited = errors.New("rate limited")

func statusError(op string, resp *http.Response) error {
	var body api.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	var kind error
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = domain.ErrRoomFull
	case http.StatusForbidden:
		kind = domain.ErrForbidden
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrTransport, ErrRateLimited, op)
	default:
		kind = domain.ErrTransport
	}
	return fmt.Errorf("%w: %s: %s", kind, op, body.Error)
}

func (c *Client) ListParticipants(ctx context.Context, room domain.RoomKey) ([]domain.Participant, error) {
	var out api.ParticipantsResponse
	if err := c.do(ctx, "list participants", http.MethodGet, roomPath(room, "participants"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Participants, nil
}

func (c *Client) SetPresence(ctx context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	return c.do(ctx, "set presence", http.MethodPut, roomPath(room, "participants", string(user)), nil,
		api.StateRequest{Muted: muted, Deafened: deafened}, nil)
}

func (c *Client) ClearPresence(ctx context.Context, room domain.RoomKey, user domain.UserID) error {
	c.stopStream()
	return c.do(ctx, "clear presence", http.MethodDelete, roomPath(room, "participants", string(user)), nil, nil, nil)
}

func (c *Client) SetParticipantState(ctx context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	return c.do(ctx, "set state", http.MethodPatch, roomPath(room, "participants", string(user)), nil,
		api.StateRequest{Muted: muted, Deafened: deafened}, nil)
}

func (c *Client) ForceParticipantState(ctx context.Context, room domain.RoomKey, user domain.UserID, forcedMuted, forcedDeafened bool) error {
	return c.do(ctx, "force state", http.MethodPut, roomPath(room, "participants", string(user), "force"), nil,
		api.ForceRequest{ForcedMuted: forcedMuted, ForcedDeafened: forcedDeafened}, nil)
}

func (c *Client) KickParticipant(ctx context.Context, room domain.RoomKey, user domain.UserID) error {
	return c.do(ctx, "kick", http.MethodPost, roomPath(room, "participants", string(user), "kick"), nil, nil, nil)
}

func (c *Client) Append(ctx context.Context, sig domain.Signal) (int64, error) {
	var out api.IDResponse
	if err := c.do(ctx, "append signal", http.MethodPost, roomPath(sig.Room, "signals"), nil, sig, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) Query(ctx context.Context, room domain.RoomKey, recipient domain.UserID, since int64) ([]domain.Signal, error) {
	if c.opts.Push {
		c.ensureStream(room)
	}
	q := url.Values{"recipient": {string(recipient)}, "since": {strconv.FormatInt(since, 10)}}
	var out api.SignalsResponse
	if err := c.do(ctx, "query signals", http.MethodGet, roomPath(room, "signals"), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Signals, nil
}

func (c *Client) LatestID(ctx context.Context, room domain.RoomKey, recipient domain.UserID) (int64, error) {
	var out api.IDResponse
	q := url.Values{"recipient": {string(recipient)}}
	if err := c.do(ctx, "latest signal", http.MethodGet, roomPath(room, "signals", "latest"), q, nil, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// Notify receives a value when signals may be waiting. Wakeups coalesce.
func (c *Client) Notify() <-chan struct{} {
	return c.notify
}

func (c *Client) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
