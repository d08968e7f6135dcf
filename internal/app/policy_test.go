package app

import (
	"testing"

	"github.com/dkeye/meshvoice/internal/domain"
)

func TestParseBackpressureAction(t *testing.T) {
	cases := map[string]BackpressureAction{"": DropFrame, "drop": DropFrame, " Kick ": KickMember}
	for raw, want := range cases {
		got, err := ParseBackpressureAction(raw)
		if err != nil || got != want {
			t.Fatalf("ParseBackpressureAction(%q) = %v, %v, want %v", raw, got, err, want)
		}
	}
	if _, err := ParseBackpressureAction("mark-slow"); err == nil {
		t.Fatalf("unknown action accepted")
	}
}

func TestSimplePolicy(t *testing.T) {
	open := SimplePolicy{}
	if open.OnBackPressure("dm:1", "u1") != DropFrame || !open.CanModerate("dm:1", "anyone") {
		t.Fatalf("zero policy = %+v", open)
	}
	strict := SimplePolicy{Moderators: []domain.UserID{"mod"}, Backpressure: KickMember}
	if strict.OnBackPressure("dm:1", "u1") != KickMember {
		t.Fatalf("backpressure = %v, want kick", strict.OnBackPressure("dm:1", "u1"))
	}
	if strict.CanModerate("dm:1", "u1") || !strict.CanModerate("dm:1", "mod") {
		t.Fatalf("moderators not enforced")
	}
}
