package bot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dropwatch/internal/catalog"
	"dropwatch/internal/store"
	"dropwatch/internal/transport"
	"dropwatch/internal/watch"
	"dropwatch/pkg/logx"
)

type stubFetcher struct {
	items []catalog.Item
	err   error
}

func (s *stubFetcher) Fetch(ctx context.Context) ([]catalog.Item, error) {
	return s.items, s.err
}

func newTestDeps(t *testing.T, f *stubFetcher, sa *stubAdapter) Deps {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "snap.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	settings := watch.NewSettings(5*time.Minute, 0)
	disp := watch.NewDispatcher(sa, logx.Nop())
	svc := watch.NewService(f, st, disp, settings, "", logx.Nop())
	return Deps{Settings: settings, Store: st, Watch: svc}
}

func testRequest(sa *stubAdapter, chatID int64) *Request {
	return &Request{
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  20,
		Adapter: sa,
		Logger:  logx.Nop(),
	}
}

func lastText(t *testing.T, sa *stubAdapter) string {
	t.Helper()
	got := sa.sentTexts()
	if len(got) == 0 {
		t.Fatal("no reply sent")
	}
	return got[len(got)-1]
}

func TestSetChannel(t *testing.T) {
	sa := &stubAdapter{}
	d := newTestDeps(t, &stubFetcher{}, sa)

	if err := d.setChannel(context.Background(), testRequest(sa, -100777)); err != nil {
		t.Fatalf("setChannel: %v", err)
	}
	if got := d.Settings.ChannelID(); got != -100777 {
		t.Fatalf("channel = %d, want -100777", got)
	}
	if !strings.Contains(lastText(t, sa), "notifications will be posted") {
		t.Fatalf("reply = %q", lastText(t, sa))
	}
}

func TestSetIntervalCommand(t *testing.T) {
	sa := &stubAdapter{}
	d := newTestDeps(t, &stubFetcher{}, sa)
	ctx := context.Background()

	req := testRequest(sa, 10)
	req.Args = []string{"120"}
	if err := d.setInterval(ctx, req); err != nil {
		t.Fatalf("setInterval: %v", err)
	}
	if got := d.Settings.Interval(); got != 120*time.Second {
		t.Fatalf("interval = %v, want 120s", got)
	}

	req.Args = []string{"30"}
	if err := d.setInterval(ctx, req); err != nil {
		t.Fatalf("setInterval(30): %v", err)
	}
	if !strings.Contains(lastText(t, sa), "at least 60 seconds") {
		t.Fatalf("reply = %q", lastText(t, sa))
	}
	if got := d.Settings.Interval(); got != 120*time.Second {
		t.Fatalf("rejected value applied: %v", got)
	}

	for _, args := range [][]string{nil, {"soon"}, {"1", "2"}} {
		req.Args = args
		if err := d.setInterval(ctx, req); err != nil {
			t.Fatalf("setInterval(%v): %v", args, err)
		}
		if !strings.Contains(lastText(t, sa), "Usage:") {
			t.Fatalf("reply for %v = %q", args, lastText(t, sa))
		}
	}
}

func TestCheckCommand(t *testing.T) {
	t.Run("new listings", func(t *testing.T) {
		sa := &stubAdapter{}
		f := &stubFetcher{items: []catalog.Item{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}}
		d := newTestDeps(t, f, sa)
		if err := d.Settings.SetChannel(55); err != nil {
			t.Fatal(err)
		}

		if err := d.check(context.Background(), testRequest(sa, 10)); err != nil {
			t.Fatalf("check: %v", err)
		}
		if got := lastText(t, sa); !strings.Contains(got, "Found 2 new listing(s)") {
			t.Fatalf("reply = %q", got)
		}
		if len(sa.listings) != 2 {
			t.Fatalf("notified %d listings, want 2", len(sa.listings))
		}
	})

	t.Run("nothing new", func(t *testing.T) {
		sa := &stubAdapter{}
		d := newTestDeps(t, &stubFetcher{}, sa)
		if err := d.check(context.Background(), testRequest(sa, 10)); err != nil {
			t.Fatalf("check: %v", err)
		}
		if got := lastText(t, sa); !strings.Contains(got, "No new listings") {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("fetch failure", func(t *testing.T) {
		sa := &stubAdapter{}
		d := newTestDeps(t, &stubFetcher{err: errors.New("status 503")}, sa)
		if err := d.check(context.Background(), testRequest(sa, 10)); err == nil {
			t.Fatal("fetch error swallowed")
		}
		if got := lastText(t, sa); !strings.Contains(got, "Failed to fetch") {
			t.Fatalf("reply = %q", got)
		}
	})
}

func TestResetCommand(t *testing.T) {
	sa := &stubAdapter{}
	f := &stubFetcher{items: []catalog.Item{{ID: "a", Name: "A"}}}
	d := newTestDeps(t, f, sa)
	if err := d.Settings.SetChannel(55); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := d.Watch.RunNow(ctx); err != nil {
		t.Fatal(err)
	}
	if d.Store.Len() != 1 {
		t.Fatalf("store holds %d, want 1", d.Store.Len())
	}

	if err := d.reset(ctx, testRequest(sa, 10)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if d.Store.Len() != 0 {
		t.Fatalf("store holds %d after reset", d.Store.Len())
	}
	if !strings.Contains(lastText(t, sa), "Cache reset") {
		t.Fatalf("reply = %q", lastText(t, sa))
	}
}

func TestStatusCommand(t *testing.T) {
	sa := &stubAdapter{}
	d := newTestDeps(t, &stubFetcher{}, sa)
	ctx := context.Background()

	if err := d.status(ctx, testRequest(sa, 10)); err != nil {
		t.Fatalf("status: %v", err)
	}
	got := lastText(t, sa)
	for _, want := range []string{"not set", "Interval: 300s", "Tracked listings: 0", "Last check: never", "🔴 inactive"} {
		if !strings.Contains(got, want) {
			t.Fatalf("status missing %q:\n%s", want, got)
		}
	}

	if err := d.Settings.SetChannel(55); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Watch.RunNow(ctx); err != nil {
		t.Fatal(err)
	}
	if err := d.status(ctx, testRequest(sa, 10)); err != nil {
		t.Fatalf("status: %v", err)
	}
	got = lastText(t, sa)
	if !strings.Contains(got, "Channel: 55") || strings.Contains(got, "Last check: never") {
		t.Fatalf("status after cycle:\n%s", got)
	}
}
