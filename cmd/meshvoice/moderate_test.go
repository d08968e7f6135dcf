package main

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/dkeye/meshvoice/internal/adapters/http"
	"github.com/dkeye/meshvoice/internal/adapters/relayclient"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/app/store"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-gonic/gin"
)

func startRelay(t *testing.T) (string, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := orch.New(store.NewDirectory(0), store.NewSignalLog(0), app.NewRegistry(), app.SimplePolicy{})
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, &config.Config{Mode: "test", Secret: "s", PingPeriod: time.Second}, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.URL, o
}

func TestModerateCommand_TogglesForcedMuteThroughFlags(t *testing.T) {
	url, o := startRelay(t)
	target, err := relayclient.New(url, relayclient.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()
	if err := target.SetPresence(context.Background(), "voice:1", "u2", false, false); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}

	run := func() {
		t.Helper()
		root := newRootCmd()
		root.SetArgs([]string{"moderate", "--relay", url, "--user", "mod", "voice:1", "u2", "force-mute"})
		if err := root.Execute(); err != nil {
			t.Fatalf("moderate: %v", err)
		}
	}
	forced := func() bool {
		rows, _ := o.Participants(context.Background(), "voice:1")
		for _, p := range rows {
			if p.UserID == "u2" {
				return p.ForcedMuted
			}
		}
		t.Fatalf("u2 missing from %+v", rows)
		return false
	}

	run()
	if !forced() {
		t.Fatalf("u2 not force-muted")
	}
	if o.Directory.Present("voice:1", "mod") {
		t.Fatalf("moderator presence left behind")
	}
	run()
	if forced() {
		t.Fatalf("second force-mute did not toggle back")
	}
}

func TestModerate_AbsentTargetAndBadAction(t *testing.T) {
	url, _ := startRelay(t)
	err := moderate(context.Background(), url, "voice:2", "mod", "ghost", "kick")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("absent target err = %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"moderate", "--relay", url, "--user", "mod", "voice:2", "u2", "ban"})
	if err := root.Execute(); err == nil {
		t.Fatalf("unknown action accepted")
	}
}
