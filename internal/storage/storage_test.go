package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "xbot/pkg/logx"
)

func openEach(t *testing.T, fn func(t *testing.T, cfg Config)) {
	t.Helper()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			fn(t, Config{Driver: driver, Path: filepath.Join(t.TempDir(), "sub", "xbot.db")})
		})
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("missing path should fail")
	}
}

func TestActionsRoundTrip(t *testing.T) {
	openEach(t, func(t *testing.T, cfg Config) {
		ctx := context.Background()
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer st.Close()

		base := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
		for i, kind := range []string{"post", "reply", "like"} {
			e := ActionEntry{At: base.Add(time.Duration(i) * time.Second), Job: "engagement", Kind: kind, TargetID: "t", OK: kind != "like"}
			if kind == "like" {
				e.Error = "forbidden"
			}
			if err := st.AppendAction(ctx, e); err != nil {
				t.Fatalf("AppendAction: %v", err)
			}
		}

		got, err := st.RecentActions(ctx, 2)
		if err != nil {
			t.Fatalf("RecentActions: %v", err)
		}
		if len(got) != 2 || got[0].Kind != "reply" || got[1].Kind != "like" {
			t.Fatalf("recent = %+v", got)
		}
		if got[1].OK || got[1].Error != "forbidden" || !got[1].At.Equal(base.Add(2*time.Second)) {
			t.Fatalf("last entry = %+v", got[1])
		}
		if all, _ := st.RecentActions(ctx, 10); len(all) != 3 {
			t.Fatalf("all = %d entries, want 3", len(all))
		}
	})
}

func TestStatusSurvivesReopen(t *testing.T) {
	openEach(t, func(t *testing.T, cfg Config) {
		ctx := context.Background()
		st, err := Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		empty, err := st.LoadStatus(ctx)
		if err != nil || len(empty) != 0 {
			t.Fatalf("fresh LoadStatus = %v, %v", empty, err)
		}

		at := time.Date(2025, 9, 18, 10, 0, 0, 123, time.UTC)
		if err := st.SaveStatus(ctx, Status{"promotion": at}); err != nil {
			t.Fatalf("SaveStatus: %v", err)
		}
		if err := st.SaveStatus(ctx, Status{"promotion": at.Add(time.Minute), "engagement": at}); err != nil {
			t.Fatalf("SaveStatus: %v", err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		st, err = Open(cfg, logx.Nop())
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer st.Close()
		got, err := st.LoadStatus(ctx)
		if err != nil {
			t.Fatalf("LoadStatus: %v", err)
		}
		if !got["promotion"].Equal(at.Add(time.Minute)) || !got["engagement"].Equal(at) || len(got) != 2 {
			t.Fatalf("status = %v", got)
		}
	})
}
