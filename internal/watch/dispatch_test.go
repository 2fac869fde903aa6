package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"dropwatch/internal/catalog"
	"dropwatch/internal/transport"
	"dropwatch/pkg/logx"
)

// fakeAdapter records outbound sends; sendErr, when set, is consulted per
// listing title to simulate partial failures.
type fakeAdapter struct {
	mu       sync.Mutex
	listings []transport.Listing
	targets  []transport.ChatTarget
	texts    []string
	sendErr  func(l transport.Listing) error
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendListing(ctx context.Context, to transport.ChatTarget, l transport.Listing) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(l); err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.listings = append(f.listings, l)
	f.targets = append(f.targets, to)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.listings)}, nil
}

func (f *fakeAdapter) IsAdmin(ctx context.Context, chat transport.ChatTarget, userID int64) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) sent() []transport.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Listing(nil), f.listings...)
}

func TestDispatchUnsetChannelDropsBatch(t *testing.T) {
	fa := &fakeAdapter{}
	d := NewDispatcher(fa, logx.Nop())

	sent, failed := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 0}, items("A", "B"))
	if sent != 0 || failed != 0 {
		t.Fatalf("sent=%d failed=%d, want 0/0", sent, failed)
	}
	if len(fa.sent()) != 0 {
		t.Fatalf("adapter received %d listings, want none", len(fa.sent()))
	}
}

func TestDispatchPerItemIsolation(t *testing.T) {
	fa := &fakeAdapter{
		sendErr: func(l transport.Listing) error {
			if l.Title == "item B" {
				return errors.New("flood limit")
			}
			return nil
		},
	}
	d := NewDispatcher(fa, logx.Nop())
	// Drain the limiter's burst handling deterministically: 3 items at
	// 1/s is too slow for a unit test, so allow immediate sends.
	d.limiter.SetLimit(1000)

	sent, failed := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 5}, items("A", "B", "C"))
	if sent != 2 || failed != 1 {
		t.Fatalf("sent=%d failed=%d, want 2/1", sent, failed)
	}
	got := fa.sent()
	if len(got) != 2 || got[0].Title != "item A" || got[1].Title != "item C" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestDispatchOrder(t *testing.T) {
	fa := &fakeAdapter{}
	d := NewDispatcher(fa, logx.Nop())
	d.limiter.SetLimit(1000)

	sent, _ := d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 5}, items("Z", "A", "M"))
	if sent != 3 {
		t.Fatalf("sent=%d, want 3", sent)
	}
	want := []string{"item Z", "item A", "item M"}
	for i, l := range fa.sent() {
		if l.Title != want[i] {
			t.Fatalf("delivery %d = %q, want %q", i, l.Title, want[i])
		}
	}
}

func TestDispatchTruncatesDescription(t *testing.T) {
	fa := &fakeAdapter{}
	d := NewDispatcher(fa, logx.Nop())
	d.limiter.SetLimit(1000)

	long := strings.Repeat("x", 250)
	in := []catalog.Item{{ID: "A", Name: "a", Description: long}}
	d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 5}, in)

	got := fa.sent()[0].Description
	if want := strings.Repeat("x", 200) + "..."; got != want {
		t.Fatalf("description = %d chars %q..., want 200+ellipsis", len(got), got[:10])
	}

	short := []catalog.Item{{ID: "B", Name: "b", Description: "fine"}}
	d.Dispatch(context.Background(), transport.ChatTarget{ChatID: 5}, short)
	if got := fa.sent()[1].Description; got != "fine" {
		t.Fatalf("short description mangled: %q", got)
	}
}

func TestTruncateRuneSafe(t *testing.T) {
	s := strings.Repeat("日", 205)
	got := truncate(s, 200)
	if want := strings.Repeat("日", 200) + "..."; got != want {
		t.Fatalf("multibyte truncation broke: %d bytes", len(got))
	}
}
