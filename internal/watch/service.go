package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dropwatch/internal/catalog"
	"dropwatch/internal/store"
	"dropwatch/internal/transport"
	"dropwatch/pkg/logx"
)

// ErrBusy signals that a cycle is already in flight; the caller should
// retry later rather than wait.
var ErrBusy = errors.New("a check is already running")

// Result is the outcome of one completed cycle.
type Result struct {
	Fetched int
	New     []catalog.Item
	Sent    int
	Failed  int
}

// Service runs the poll loop. The interval is re-read from Settings when
// each next tick is armed, so /interval takes effect on the next cycle
// boundary without touching a cycle already in flight.
type Service struct {
	log      logx.Logger
	fetcher  catalog.Fetcher
	store    store.Store
	disp     *Dispatcher
	settings *Settings

	inFlight atomic.Bool
	running  atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup

	maintenanceSpec string
	cron            *cron.Cron

	lastMu  sync.Mutex
	last    Result
	lastErr error
	hasLast bool
}

func NewService(fetcher catalog.Fetcher, st store.Store, disp *Dispatcher, settings *Settings, maintenanceSpec string, log logx.Logger) *Service {
	return &Service{
		log:             log,
		fetcher:         fetcher,
		store:           st,
		disp:            disp,
		settings:        settings,
		maintenanceSpec: maintenanceSpec,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.running.Store(true)

	stopCh := s.stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, stopCh)
	}()

	if spec := s.maintenanceSpec; spec != "" {
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		c := cron.New(cron.WithParser(parser))
		if _, err := c.AddFunc(spec, s.maintain); err != nil {
			s.log.Warn("invalid maintenance spec; periodic flush disabled", logx.String("spec", spec), logx.Err(err))
		} else {
			c.Start()
			s.cron = c
		}
	}

	s.log.Info("watch service started", logx.Duration("interval", s.settings.Interval()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	s.running.Store(false)
	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("watch service stopped")
	case <-ctx.Done():
		s.log.Warn("watch service stop timed out; cycle finishing in background")
	}
}

// Running reports whether the poll loop is active (for /status).
func (s *Service) Running() bool { return s.running.Load() }

// Last returns the most recent cycle outcome.
func (s *Service) Last() (Result, error, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.lastErr, s.hasLast
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		timer := time.NewTimer(s.settings.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.run(ctx, "tick"); errors.Is(err, ErrBusy) {
			s.log.Debug("tick skipped; cycle already in flight")
		}
	}
}

// RunNow triggers a cycle on demand. It returns ErrBusy when one is
// already in flight; it never queues or joins the in-flight cycle.
func (s *Service) RunNow(ctx context.Context) (Result, error) {
	return s.run(ctx, "manual")
}

// run executes one fetch -> diff -> notify -> commit cycle under the
// single-flight guard.
func (s *Service) run(ctx context.Context, trigger string) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer s.inFlight.Store(false)
	// A started cycle runs to completion: the caller's deadline bounds only
	// its wait, never the fetch-dispatch-commit sequence.
	ctx = context.WithoutCancel(ctx)
	// lastCheck is stamped on every cycle, success or failure.
	defer s.settings.MarkChecked(time.Now().UTC())

	start := time.Now()
	log := s.log.With(logx.String("trigger", trigger))
	log.Debug("cycle started", logx.String("state", "fetching"))

	items, err := s.fetcher.Fetch(ctx)
	if err != nil {
		log.Warn("cycle failed", logx.String("state", "fetching"), logx.Err(err))
		s.record(Result{}, err)
		return Result{}, err
	}

	log.Debug("cycle progressing", logx.String("state", "diffing"), logx.Int("fetched", len(items)))
	fresh := Diff(items, s.store)
	res := Result{Fetched: len(items), New: fresh}

	if len(fresh) > 0 {
		log.Debug("cycle progressing", logx.String("state", "notifying"), logx.Int("new", len(fresh)))
		to := transport.ChatTarget{ChatID: s.settings.ChannelID()}
		res.Sent, res.Failed = s.disp.Dispatch(ctx, to, fresh)

		// Commit: every diffed item is marked seen regardless of its
		// dispatch outcome, so a flaky destination cannot cause repeat
		// notifications.
		log.Debug("cycle progressing", logx.String("state", "committing"))
		now := time.Now().UTC()
		recs := make([]store.Record, 0, len(fresh))
		for _, it := range fresh {
			recs = append(recs, store.Record{
				ID:        it.ID,
				Name:      it.Name,
				Price:     it.Price,
				URL:       it.URL,
				FirstSeen: now,
			})
		}
		s.store.Merge(recs)
		if err := s.store.Save(ctx); err != nil {
			// In-memory state stays authoritative; a restart before the
			// next successful save may re-notify this batch.
			log.Error("snapshot save failed", logx.Err(err))
		}
	}

	log.Info("cycle completed",
		logx.Int("fetched", res.Fetched),
		logx.Int("new", len(res.New)),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("dur", time.Since(start)),
	)
	s.record(res, nil)
	return res, nil
}

func (s *Service) record(res Result, err error) {
	s.lastMu.Lock()
	s.last, s.lastErr, s.hasLast = res, err, true
	s.lastMu.Unlock()
}

// maintain flushes the snapshot on the cron schedule. The save is a no-op
// when nothing changed since the last cycle commit.
func (s *Service) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.store.Save(ctx); err != nil && !errors.Is(err, store.ErrClosed) {
		s.log.Warn("maintenance save failed", logx.Err(err))
		return
	}
	s.log.Debug("maintenance save completed", logx.Int("items", s.store.Len()))
}
