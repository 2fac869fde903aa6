package watch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"dropwatch/internal/catalog"
	"dropwatch/internal/transport"
	"dropwatch/pkg/logx"
)

// maxDescriptionLen bounds the description carried in a notification.
const maxDescriptionLen = 200

// Dispatcher turns newly detected items into outbound listing
// notifications, one per item, rate limited to stay under the chat
// platform's send limits.
type Dispatcher struct {
	adapter transport.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(adapter transport.Adapter, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		log:     log,
	}
}

// Dispatch sends one notification per item, in order. With no channel
// configured the whole batch is dropped (logged, never queued). An
// individual send failure is logged and does not block later items.
func (d *Dispatcher) Dispatch(ctx context.Context, to transport.ChatTarget, items []catalog.Item) (sent, failed int) {
	if len(items) == 0 {
		return 0, 0
	}
	if to.ChatID == 0 {
		d.log.Warn("no notification channel configured; dropping batch", logx.Int("items", len(items)))
		return 0, 0
	}

	for _, it := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			d.log.Warn("dispatch aborted", logx.Err(err), logx.Int("remaining", len(items)-sent-failed))
			return sent, failed
		}
		l := transport.Listing{
			Title:       it.Name,
			URL:         it.URL,
			ImageURL:    it.ImageURL,
			Description: truncate(it.Description, maxDescriptionLen),
			Price:       it.Price,
			At:          time.Now().UTC(),
		}
		if _, err := d.adapter.SendListing(ctx, to, l); err != nil {
			failed++
			d.log.Warn("listing notification failed", logx.String("id", it.ID), logx.Err(err))
			continue
		}
		sent++
		d.log.Debug("listing notified", logx.String("id", it.ID), logx.String("name", it.Name), logx.Time("at", l.At))
	}
	return sent, failed
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
