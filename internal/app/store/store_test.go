package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
)

func TestDirectory_PresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(0)
	var emptied []domain.RoomKey
	d.OnRoomEmpty(func(r domain.RoomKey) { emptied = append(emptied, r) })

	if err := d.SetPresence(ctx, "dm:42", "u1", false, false); err != nil {
		t.Fatalf("SetPresence u1: %v", err)
	}
	if err := d.SetPresence(ctx, "dm:42", "u2", true, false); err != nil {
		t.Fatalf("SetPresence u2: %v", err)
	}
	got, _ := d.ListParticipants(ctx, "dm:42")
	if len(got) != 2 || got[0].UserID != "u1" || got[1].UserID != "u2" || !got[1].Muted {
		t.Fatalf("ListParticipants = %+v", got)
	}

	if err := d.ClearPresence(ctx, "dm:42", "u1"); err != nil {
		t.Fatalf("ClearPresence: %v", err)
	}
	if len(emptied) != 0 {
		t.Fatalf("room emptied with u2 still present")
	}
	if err := d.KickParticipant(ctx, "dm:42", "u2"); err != nil {
		t.Fatalf("KickParticipant: %v", err)
	}
	if len(emptied) != 1 || emptied[0] != "dm:42" {
		t.Fatalf("emptied = %v, want [dm:42]", emptied)
	}
	if rooms := d.Rooms(); len(rooms) != 0 {
		t.Fatalf("Rooms = %v, want none", rooms)
	}
}

func TestDirectory_JoinOrderIsJoinedAt(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	d.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	for _, u := range []domain.UserID{"zed", "amy", "bob"} {
		if err := d.SetPresence(ctx, "r", u, false, false); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := d.ListParticipants(ctx, "r")
	want := []domain.UserID{"zed", "amy", "bob"}
	for i := range want {
		if got[i].UserID != want[i] {
			t.Fatalf("participant[%d] = %s, want %s", i, got[i].UserID, want[i])
		}
	}
}

func TestDirectory_RoomFull(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(2)
	_ = d.SetPresence(ctx, "r", "a", false, false)
	_ = d.SetPresence(ctx, "r", "b", false, false)
	if err := d.SetPresence(ctx, "r", "c", false, false); !errors.Is(err, domain.ErrRoomFull) {
		t.Fatalf("third join err = %v, want ErrRoomFull", err)
	}
	// Existing members can still update their row.
	if err := d.SetPresence(ctx, "r", "a", true, true); err != nil {
		t.Fatalf("rejoin of existing member: %v", err)
	}
}

func TestDirectory_ForcedFlagsSurviveRejoin(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(0)
	_ = d.SetPresence(ctx, "r", "u2", false, false)
	if err := d.ForceParticipantState(ctx, "r", "u2", false, true); err != nil {
		t.Fatal(err)
	}
	_ = d.SetPresence(ctx, "r", "u2", false, false)
	got, _ := d.ListParticipants(ctx, "r")
	if !got[0].ForcedDeafened || !got[0].EffectiveMuted() {
		t.Fatalf("participant = %+v, want forced deafened and effectively muted", got[0])
	}
}

func TestDirectory_UnknownParticipant(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(0)
	if err := d.SetParticipantState(ctx, "r", "ghost", true, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("SetParticipantState err = %v, want ErrNotFound", err)
	}
	if err := d.ForceParticipantState(ctx, "r", "ghost", true, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ForceParticipantState err = %v, want ErrNotFound", err)
	}
	if err := d.KickParticipant(ctx, "r", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("KickParticipant err = %v, want ErrNotFound", err)
	}
	if err := d.ClearPresence(ctx, "r", "ghost"); err != nil {
		t.Fatalf("ClearPresence of absent user = %v, want nil", err)
	}
}

func appendSig(t *testing.T, l *SignalLog, from, to domain.UserID) int64 {
	t.Helper()
	id, err := l.Append(context.Background(), domain.Signal{
		Room: "r", Sender: from, Recipient: to, Kind: domain.SignalCandidate, Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func TestSignalLog_QueryVisibility(t *testing.T) {
	ctx := context.Background()
	l := NewSignalLog(0)
	a := appendSig(t, l, "u1", "u2")
	b := appendSig(t, l, "u3", "u1")
	c := appendSig(t, l, "u2", "u1")
	d := appendSig(t, l, "u3", "")
	if !(a < b && b < c && c < d) {
		t.Fatalf("ids not increasing: %d %d %d %d", a, b, c, d)
	}

	got, _ := l.Query(ctx, "r", "u2", 0)
	// Own send, broadcast. Not u3 -> u1.
	wantIDs := []int64{a, c, d}
	if len(got) != len(wantIDs) {
		t.Fatalf("Query len = %d, want %d (%+v)", len(got), len(wantIDs), got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("Query[%d].ID = %d, want %d", i, got[i].ID, id)
		}
	}

	got, _ = l.Query(ctx, "r", "u2", c)
	if len(got) != 1 || got[0].ID != d {
		t.Fatalf("Query since %d = %+v, want only %d", c, got, d)
	}

	latest, _ := l.LatestID(ctx, "r", "u1")
	if latest != d {
		t.Fatalf("LatestID = %d, want %d", latest, d)
	}
	if latest, _ := l.LatestID(ctx, "other", "u1"); latest != 0 {
		t.Fatalf("LatestID on empty room = %d, want 0", latest)
	}
}

func TestSignalLog_RejectsInvalid(t *testing.T) {
	l := NewSignalLog(0)
	_, err := l.Append(context.Background(), domain.Signal{Room: "r", Sender: "u1", Kind: "bogus"})
	if !errors.Is(err, ErrInvalidSignal) {
		t.Fatalf("err = %v, want ErrInvalidSignal", err)
	}
}

func TestSignalLog_RetentionAndPrune(t *testing.T) {
	l := NewSignalLog(3)
	for i := 0; i < 5; i++ {
		appendSig(t, l, "u1", "u2")
	}
	if n := l.Len("r"); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	got, _ := l.Query(context.Background(), "r", "u2", 0)
	if got[0].ID != 3 {
		t.Fatalf("oldest retained id = %d, want 3", got[0].ID)
	}
	l.Prune("r")
	if n := l.Len("r"); n != 0 {
		t.Fatalf("Len after prune = %d, want 0", n)
	}
	// IDs keep increasing after a prune.
	if id := appendSig(t, l, "u1", "u2"); id != 6 {
		t.Fatalf("id after prune = %d, want 6", id)
	}
}

func TestSignalLog_Subscribe(t *testing.T) {
	l := NewSignalLog(0)
	ch, cancel := l.Subscribe("r", "u2")
	appendSig(t, l, "u2", "u1")
	appendSig(t, l, "u1", "u3")
	id := appendSig(t, l, "u1", "u2")
	select {
	case got := <-ch:
		if got != id {
			t.Fatalf("notified id = %d, want %d", got, id)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	cancel()
	cancel()
	appendSig(t, l, "u1", "u2")
	select {
	case <-ch:
		t.Fatal("notified after cancel")
	default:
	}
}
