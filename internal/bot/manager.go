// Package bot routes chat commands to the watch engine.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"dropwatch/internal/transport"
	"dropwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter transport.Adapter
	Logger  logx.Logger
}

// Manager parses incoming updates, gates admin commands, and runs handlers
// on a bounded worker pool.
type Manager struct {
	mu     sync.RWMutex
	cmds   map[string]*Command
	admins []int64

	log     logx.Logger
	adapter transport.Adapter

	jobs chan func()
}

func NewManager(log logx.Logger, adapter transport.Adapter, admins []int64) *Manager {
	return &Manager{
		cmds:    map[string]*Command{},
		admins:  append([]int64(nil), admins...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), 64),
	}
}

// SetAdmins replaces the static admin list. Safe during hot reload.
func (m *Manager) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	m.mu.Lock()
	m.admins = cp
	m.mu.Unlock()
}

// Register installs the command set. A /help command is always injected.
func (m *Manager) Register(cmds ...Command) {
	reg := map[string]*Command{}
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		reg[name] = &c
	}
	help := Command{
		Name:        "help",
		Description: "show available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(), &transport.SendOptions{DisablePreview: true})
			return err
		},
	}
	reg[help.Name] = &help

	m.mu.Lock()
	m.cmds = reg
	m.mu.Unlock()
}

// PublishMenu pushes the command list to the platform's menu, when the
// adapter supports it.
func (m *Manager) PublishMenu(ctx context.Context) {
	upd, ok := m.adapter.(transport.CommandMenuUpdater)
	if !ok {
		return
	}
	var out []transport.BotCommand
	for _, name := range m.commandNames() {
		m.mu.RLock()
		c := m.cmds[name]
		m.mu.RUnlock()
		out = append(out, transport.BotCommand{Command: name, Description: c.Description})
	}
	if err := upd.UpdateMenuCommands(ctx, out); err != nil {
		m.log.Warn("menu update failed", logx.Err(err))
	}
}

func (m *Manager) commandNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cmds))
	for name := range m.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DispatchLoop consumes updates until ctx is done. Handlers run on a
// bounded worker pool; when the pool is saturated the caller gets a busy
// reply instead of unbounded queueing.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job != nil {
						m.runJob(idx, job)
					}
				}
			}
		}()
	}
	defer func() {
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == transport.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

// runJob executes one queued job; the recover keeps the worker alive.
// Handler panics are already absorbed by MWPanicRecover, so this only
// catches panics in the queueing wrapper itself.
func (m *Manager) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command worker", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *Manager) routeMessage(root context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmdPtr, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		_, _ = m.adapter.SendText(root, chat, "Unknown command. Try /help", nil)
		return
	}
	cmd := *cmdPtr

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	handler := cmd.Handle
	if cmd.Access == AccessAdminOnly {
		handler = m.requireAdmin(handler)
	}
	final := Chain(
		handler,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = m.adapter.SendText(root, chat, "Busy, try again", nil)
	}
}

// requireAdmin gates a handler on administrator rights: either the sender
// is on the static admin list, or the chat platform reports them as an
// administrator of the chat the command came from.
func (m *Manager) requireAdmin(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		m.mu.RLock()
		admins := m.admins
		m.mu.RUnlock()
		allowed := false
		for _, id := range admins {
			if id == req.FromID {
				allowed = true
				break
			}
		}
		if !allowed {
			ok, err := m.adapter.IsAdmin(ctx, req.Chat, req.FromID)
			if err != nil {
				req.Logger.Warn("admin check failed", logx.Err(err))
			}
			allowed = ok
		}
		if !allowed {
			_, _ = req.Adapter.SendText(ctx, req.Chat, "This command requires administrator rights.", nil)
			return nil
		}
		return next(ctx, req)
	}
}

func (m *Manager) helpText() string {
	lines := []string{"📚 Commands:"}
	for _, name := range m.commandNames() {
		m.mu.RLock()
		c := m.cmds[name]
		m.mu.RUnlock()
		line := "- " + c.Usage
		if strings.TrimSpace(c.Usage) == "" {
			line = "- /" + name
		}
		if c.Description != "" {
			line += " — " + c.Description
		}
		if c.Access == AccessAdminOnly {
			line += " (admin)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
