package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/app/store"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newServer(t *testing.T, tweak func(*config.Config), policy app.Policy) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  4096,
		PingPeriod: time.Second,
	}
	if tweak != nil {
		tweak(cfg)
	}
	o := orch.New(store.NewDirectory(cfg.MaxParticipants), store.NewSignalLog(0), app.NewRegistry(), policy)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

type client struct {
	t    *testing.T
	base string
	jar  http.CookieJar
	http *http.Client
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, base: srv.URL, jar: jar, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *client) join(room, user string) {
	c.t.Helper()
	if code := c.do(http.MethodPut, "/api/rooms/"+room+"/participants/"+user, api.StateRequest{}, nil); code != http.StatusNoContent {
		c.t.Fatalf("join %s as %s = %d", room, user, code)
	}
}

func (c *client) dial(room string) *websocket.Conn {
	c.t.Helper()
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/api/rooms/" + room + "/signals/ws"
	d := websocket.Dialer{Jar: c.jar, HandshakeTimeout: 2 * time.Second}
	ws, resp, err := d.Dial(url, nil)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		c.t.Fatalf("dial %s: %v (status %d)", url, err, code)
	}
	c.t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) api.Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f api.Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func offerBody(to string) domain.Signal {
	return domain.Signal{Recipient: domain.UserID(to), Kind: domain.SignalOffer, Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
}

func TestRouter_PresenceAndSignalRoundTrip(t *testing.T) {
	srv, _ := newServer(t, nil, app.SimplePolicy{})
	a, b := newClient(t, srv), newClient(t, srv)

	if code := a.do(http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	var latest api.IDResponse
	if code := b.do(http.MethodGet, "/api/rooms/dm:42/signals/latest?recipient=u2", nil, &latest); code != http.StatusOK || latest.ID != 0 {
		t.Fatalf("latest before join = %d %+v", code, latest)
	}

	a.join("dm:42", "u1")
	b.join("dm:42", "u2")
	if code := b.do(http.MethodPatch, "/api/rooms/dm:42/participants/u2", api.StateRequest{Muted: true}, nil); code != http.StatusNoContent {
		t.Fatalf("set state = %d", code)
	}

	var rows api.ParticipantsResponse
	if code := a.do(http.MethodGet, "/api/rooms/dm:42/participants", nil, &rows); code != http.StatusOK {
		t.Fatalf("participants = %d", code)
	}
	if len(rows.Participants) != 2 {
		t.Fatalf("participants = %+v", rows.Participants)
	}
	for _, p := range rows.Participants {
		if p.Muted != (p.UserID == "u2") {
			t.Fatalf("participants = %+v", rows.Participants)
		}
	}

	var appended api.IDResponse
	if code := a.do(http.MethodPost, "/api/rooms/dm:42/signals", offerBody("u2"), &appended); code != http.StatusCreated || appended.ID == 0 {
		t.Fatalf("append = %d %+v", code, appended)
	}
	var got api.SignalsResponse
	if code := b.do(http.MethodGet, "/api/rooms/dm:42/signals?recipient=u2&since=0", nil, &got); code != http.StatusOK {
		t.Fatalf("query = %d", code)
	}
	if len(got.Signals) != 1 || got.Signals[0].ID != appended.ID || got.Signals[0].Sender != "u1" || got.Signals[0].Room != "dm:42" {
		t.Fatalf("signals = %+v", got.Signals)
	}
	if code := b.do(http.MethodGet, "/api/rooms/dm:42/signals/latest?recipient=u2", nil, &latest); code != http.StatusOK || latest.ID != appended.ID {
		t.Fatalf("latest = %d %+v", code, latest)
	}
	got = api.SignalsResponse{}
	b.do(http.MethodGet, "/api/rooms/dm:42/signals?recipient=u2&since="+strconv.FormatInt(appended.ID, 10), nil, &got)
	if len(got.Signals) != 0 {
		t.Fatalf("signals after watermark = %+v", got.Signals)
	}

	if code := a.do(http.MethodDelete, "/api/rooms/dm:42/participants/u1", nil, nil); code != http.StatusNoContent {
		t.Fatalf("leave = %d", code)
	}
	rows = api.ParticipantsResponse{}
	a.do(http.MethodGet, "/api/rooms/dm:42/participants", nil, &rows)
	if len(rows.Participants) != 1 || rows.Participants[0].UserID != "u2" {
		t.Fatalf("participants after leave = %+v", rows.Participants)
	}
}

func TestRouter_ErrorMapping(t *testing.T) {
	srv, _ := newServer(t, func(c *config.Config) { c.MaxParticipants = 1 }, app.SimplePolicy{Moderators: []domain.UserID{"mod"}})
	a, b := newClient(t, srv), newClient(t, srv)

	if code := a.do(http.MethodPost, "/api/rooms/dm:1/signals", offerBody("u2"), nil); code != http.StatusForbidden {
		t.Fatalf("append without presence = %d", code)
	}
	a.join("dm:1", "u1")
	if code := b.do(http.MethodPut, "/api/rooms/dm:1/participants/u2", api.StateRequest{}, nil); code != http.StatusConflict {
		t.Fatalf("join full room = %d", code)
	}
	bad := offerBody("u2")
	bad.Kind = "hangup"
	if code := a.do(http.MethodPost, "/api/rooms/dm:1/signals", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("invalid kind = %d", code)
	}
	spoofed := offerBody("u2")
	spoofed.Sender = "u9"
	if code := a.do(http.MethodPost, "/api/rooms/dm:1/signals", spoofed, nil); code != http.StatusForbidden {
		t.Fatalf("spoofed sender = %d", code)
	}
	if code := a.do(http.MethodPut, "/api/rooms/dm:1/participants/u1/force", api.ForceRequest{ForcedMuted: true}, nil); code != http.StatusForbidden {
		t.Fatalf("force by non-moderator = %d", code)
	}
	if code := a.do(http.MethodPatch, "/api/rooms/dm:1/participants/u2", api.StateRequest{}, nil); code != http.StatusForbidden {
		t.Fatalf("update another user = %d", code)
	}
	if code := a.do(http.MethodGet, "/api/rooms/dm:1/signals?recipient=u1&since=-3", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("negative since = %d", code)
	}
	if code := a.do(http.MethodGet, "/api/rooms/dm:1/signals", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("missing recipient = %d", code)
	}
	long := strings.Repeat("r", domain.MaxRoomKeyLen) + "-b"
	if code := a.do(http.MethodPut, "/api/rooms/"+long+"/participants/u1", api.StateRequest{}, nil); code != http.StatusBadRequest {
		t.Fatalf("oversized room key = %d", code)
	}

	m := newClient(t, srv)
	a.do(http.MethodDelete, "/api/rooms/dm:1/participants/u1", nil, nil)
	m.join("dm:1", "mod")
	if code := m.do(http.MethodPost, "/api/rooms/dm:1/participants/ghost/kick", nil, nil); code != http.StatusNotFound {
		t.Fatalf("kick absent user = %d", code)
	}
}

func TestRouter_SignalAppendsAreRateLimited(t *testing.T) {
	srv, _ := newServer(t, func(c *config.Config) {
		c.SignalRateLimit = 2
		c.SignalRateInterval = time.Minute
	}, app.SimplePolicy{})
	a := newClient(t, srv)
	a.join("dm:5", "u1")
	for i := 0; i < 2; i++ {
		if code := a.do(http.MethodPost, "/api/rooms/dm:5/signals", offerBody("u2"), nil); code != http.StatusCreated {
			t.Fatalf("append %d = %d", i, code)
		}
	}
	if code := a.do(http.MethodPost, "/api/rooms/dm:5/signals", offerBody("u2"), nil); code != http.StatusTooManyRequests {
		t.Fatalf("third append = %d, want 429", code)
	}
}

func TestRouter_PushStreamNotifiesAndClosesOnKick(t *testing.T) {
	srv, o := newServer(t, nil, app.SimplePolicy{})
	a, b := newClient(t, srv), newClient(t, srv)

	if resp, err := http.Get(srv.URL + "/api/rooms/dm:7/signals/ws"); err == nil {
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("unbound ws = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	a.join("dm:7", "u1")
	b.join("dm:7", "u2")
	ws := b.dial("dm:7")

	var appended api.IDResponse
	if code := a.do(http.MethodPost, "/api/rooms/dm:7/signals", offerBody("u2"), &appended); code != http.StatusCreated {
		t.Fatalf("append = %d", code)
	}
	if f := readFrame(t, ws); f.Type != api.FrameSignal || f.ID != appended.ID || f.Room != "dm:7" {
		t.Fatalf("frame = %+v", f)
	}

	if err := ws.WriteJSON(map[string]any{
		"type":      "answer",
		"target_id": "u1",
		"payload":   map[string]string{"type": "answer", "sdp": "v=0"},
	}); err != nil {
		t.Fatal(err)
	}
	ack := readFrame(t, ws)
	if ack.Type != api.FrameAppended || ack.ID <= appended.ID {
		t.Fatalf("ack = %+v", ack)
	}
	sigs, _ := o.QuerySignals(context.Background(), "dm:7", "u1", appended.ID)
	if len(sigs) != 1 || sigs[0].Kind != domain.SignalAnswer || sigs[0].Sender != "u2" {
		t.Fatalf("ws append = %+v", sigs)
	}

	if err := ws.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if f := readFrame(t, ws); f.Type != "pong" {
		t.Fatalf("ping reply = %+v", f)
	}

	if code := a.do(http.MethodPost, "/api/rooms/dm:7/participants/u2/kick", nil, nil); code != http.StatusNoContent {
		t.Fatalf("kick = %d", code)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				t.Fatalf("push stream still open after kick")
			}
			break
		}
	}
}
