package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dropwatch/internal/store"
	"dropwatch/internal/watch"
)

// Deps are the engine pieces the stock commands operate on.
type Deps struct {
	Settings *watch.Settings
	Store    store.Store
	Watch    *watch.Service
}

// Commands returns the fixed command surface. /help is injected by
// Manager.Register.
func Commands(d Deps) []Command {
	return []Command{
		{
			Name:        "setchannel",
			Description: "post new-listing notifications in this chat",
			Usage:       "/setchannel",
			Access:      AccessAdminOnly,
			Handle:      d.setChannel,
		},
		{
			Name:        "status",
			Description: "show watcher status and configuration",
			Usage:       "/status",
			Access:      AccessEveryone,
			Handle:      d.status,
		},
		{
			Name:        "interval",
			Description: "set the check interval in seconds (min 60)",
			Usage:       "/interval <seconds>",
			Access:      AccessAdminOnly,
			Handle:      d.setInterval,
		},
		{
			Name:        "check",
			Description: "run a listing check right now",
			Usage:       "/check",
			Access:      AccessAdminOnly,
			Timeout:     45 * time.Second,
			Handle:      d.check,
		},
		{
			Name:        "reset",
			Description: "forget all seen listings",
			Usage:       "/reset",
			Access:      AccessAdminOnly,
			Handle:      d.reset,
		},
	}
}

func (d Deps) setChannel(ctx context.Context, req *Request) error {
	if err := d.Settings.SetChannel(req.Chat.ChatID); err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not use this chat as the notification channel.", nil)
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "✅ New-listing notifications will be posted in this chat.", nil)
	return err
}

func (d Deps) status(ctx context.Context, req *Request) error {
	st := d.Settings.Status()

	channel := "not set (use /setchannel)"
	if st.ChannelID != 0 {
		channel = strconv.FormatInt(st.ChannelID, 10)
	}
	lastCheck := "never"
	if !st.LastCheck.IsZero() {
		lastCheck = st.LastCheck.UTC().Format(time.RFC3339)
	}
	state := "🔴 inactive"
	if d.Watch.Running() {
		state = "🟢 active"
	}

	lines := []string{
		"Watcher status",
		"Channel: " + channel,
		fmt.Sprintf("Interval: %ds", int(st.Interval/time.Second)),
		fmt.Sprintf("Tracked listings: %d", d.Store.Len()),
		"Last check: " + lastCheck,
		"Monitoring: " + state,
	}
	if _, lastErr, ok := d.Watch.Last(); ok && lastErr != nil {
		lines = append(lines, "Last cycle error: "+lastErr.Error())
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, strings.Join(lines, "\n"), nil)
	return err
}

func (d Deps) setInterval(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /interval <seconds>", nil)
		return err
	}
	seconds, err := strconv.Atoi(req.Args[0])
	if err != nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Usage: /interval <seconds>", nil)
		return err
	}

	if err := d.Settings.SetInterval(seconds); err != nil {
		if errors.Is(err, watch.ErrIntervalTooShort) {
			_, err := req.Adapter.SendText(ctx, req.Chat, "⚠️ Interval must be at least 60 seconds.", nil)
			return err
		}
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat,
		fmt.Sprintf("✅ Check interval set to %d seconds. Takes effect on the next cycle.", seconds), nil)
	return err
}

func (d Deps) check(ctx context.Context, req *Request) error {
	_, _ = req.Adapter.SendText(ctx, req.Chat, "🔍 Checking for new listings...", nil)

	res, err := d.Watch.RunNow(ctx)
	switch {
	case errors.Is(err, watch.ErrBusy):
		_, err := req.Adapter.SendText(ctx, req.Chat, "A check is already running, try again shortly.", nil)
		return err
	case err != nil:
		_, serr := req.Adapter.SendText(ctx, req.Chat, "❌ Failed to fetch listings. Check the catalog endpoint and connection.", nil)
		if serr != nil {
			return serr
		}
		return err
	case len(res.New) == 0:
		_, err := req.Adapter.SendText(ctx, req.Chat, "✅ Check complete. No new listings found.", nil)
		return err
	default:
		_, err := req.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("✅ Found %d new listing(s): %d notified, %d failed.", len(res.New), res.Sent, res.Failed), nil)
		return err
	}
}

func (d Deps) reset(ctx context.Context, req *Request) error {
	if err := d.Store.Reset(ctx); err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Reset failed, see logs.", nil)
		return err
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, "✅ Cache reset. Every current listing will be treated as new on the next check.", nil)
	return err
}
