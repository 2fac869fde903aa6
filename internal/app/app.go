// Package app wires the engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"dropwatch/internal/bot"
	"dropwatch/internal/catalog"
	"dropwatch/internal/config"
	"dropwatch/internal/store"
	"dropwatch/internal/transport"
	"dropwatch/internal/transport/telegram"
	"dropwatch/internal/watch"
	"dropwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter  *telegram.Adapter
	st       store.Store
	settings *watch.Settings
	fetcher  *catalog.HTTPFetcher
	svc      *watch.Service
	cmds     *bot.Manager

	updates chan transport.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath, token string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return fail(err)
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(err)
	}

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return fail(err)
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return fail(err)
	}

	catTimeout, err := config.ParseDuration("catalog.timeout", cfg.Catalog.Timeout, 10*time.Second)
	if err != nil {
		_ = st.Close()
		return fail(err)
	}

	// Transactional reload gate: the store handle is opened once, so a
	// reload cannot re-point the persistence settings.
	cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if next.Storage.Driver != cfg.Storage.Driver || next.Storage.Path != cfg.Storage.Path {
			return errors.New("storage settings cannot change at runtime; restart required")
		}
		return nil
	})
	fetcher := catalog.NewHTTPFetcher(catalog.HTTPConfig{
		URL:       cfg.Catalog.URL,
		Timeout:   catTimeout,
		UserAgent: cfg.Catalog.UserAgent,
	}, log.With(logx.String("comp", "catalog")))

	settings := watch.NewSettings(cfg.Interval(), cfg.Telegram.DefaultChatID)
	disp := watch.NewDispatcher(adapter, log.With(logx.String("comp", "dispatch")))
	svc := watch.NewService(fetcher, st, disp, settings, maintenanceSpec(cfg), log.With(logx.String("comp", "watch")))

	cmds := bot.NewManager(log.With(logx.String("comp", "commands")), adapter, cfg.Telegram.AdminUserIDs)
	cmds.Register(bot.Commands(bot.Deps{
		Settings: settings,
		Store:    st,
		Watch:    svc,
	})...)

	return &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		adapter:  adapter,
		st:       st,
		settings: settings,
		fetcher:  fetcher,
		svc:      svc,
		cmds:     cmds,
		updates:  make(chan transport.Update, 256),
	}, nil
}

func maintenanceSpec(cfg *config.Config) string {
	if cfg.Watch.MaintenanceSpec != "" {
		return cfg.Watch.MaintenanceSpec
	}
	return "0 4 * * *"
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.svc.Start(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cmds.DispatchLoop(runCtx, a.updates)
	}()

	// Best-effort: publish the command menu without holding up startup.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		mctx, mcancel := context.WithTimeout(runCtx, 15*time.Second)
		defer mcancel()
		a.cmds.PublishMenu(mctx)
	}()

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	catTimeout, err := config.ParseDuration("catalog.timeout", cfg.Catalog.Timeout, 10*time.Second)
	if err != nil {
		// Parse() validated this; keep the old timeout if it slips through.
		catTimeout = 10 * time.Second
	}
	a.fetcher.Apply(catalog.HTTPConfig{
		URL:       cfg.Catalog.URL,
		Timeout:   catTimeout,
		UserAgent: cfg.Catalog.UserAgent,
	})

	a.settings.ApplyDefaults(cfg.Interval(), cfg.Telegram.DefaultChatID)
	a.cmds.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.log.Info("config applied",
		logx.Bool("console_log", cfg.Logging.ConsoleEnabled()),
		logx.Bool("file_log", cfg.Logging.File.Enabled),
		logx.Int("admins", len(cfg.Telegram.AdminUserIDs)),
	)
}

// Stop shuts components down in dependency order: scheduler first (no new
// cycles), then the chat adapter, then background loops and the store.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	a.svc.Stop(ctx)
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background loops still draining at shutdown deadline")
	}

	if err := a.st.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
