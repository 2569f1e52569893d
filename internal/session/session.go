// Package session hosts the running ladder widgets. Each widget instance is
// an actor; instances share refcounted feed subscriptions through
// registries owned by the Session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/scalperladder/internal/domain"
	"github.com/alanyoungcy/scalperladder/internal/ladder"
	"github.com/alanyoungcy/scalperladder/internal/metrics"
)

// Session owns every widget instance of the process and the terminal-wide
// settings they share.
type Session struct {
	deps   Deps
	logger *slog.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
	active    string
	terminal  domain.TerminalSettings
}

// New creates an empty Session.
func New(deps Deps, logger *slog.Logger) *Session {
	return &Session{
		deps:      deps,
		logger:    logger.With(slog.String("component", "session")),
		instances: make(map[string]*Instance),
	}
}

// Open starts an instance for settings. An empty GUID gets a new one; an
// existing GUID has its settings updated instead.
func (s *Session) Open(ctx context.Context, settings domain.WidgetSettings) (*Instance, error) {
	if settings.GUID == "" {
		settings.GUID = uuid.NewString()
	}

	s.mu.Lock()
	if inst, ok := s.instances[settings.GUID]; ok {
		s.mu.Unlock()
		if err := inst.Update(ctx, settings); err != nil {
			return nil, fmt.Errorf("session: open %s: %w", settings.GUID, err)
		}
		return inst, nil
	}
	if s.active == "" {
		s.active = settings.GUID
	}
	inst := newInstance(settings.GUID, settings, s.terminal, s.active == settings.GUID, s.deps, s.logger)
	s.instances[settings.GUID] = inst
	s.mu.Unlock()

	metrics.ActiveInstances.Inc()
	s.logger.InfoContext(ctx, "instance opened",
		slog.String("guid", settings.GUID),
		slog.String("instrument", settings.InstrumentKey().String()),
	)
	return inst, nil
}

// Instance returns the instance with guid.
func (s *Session) Instance(guid string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[guid]
	if !ok {
		return nil, fmt.Errorf("session: instance %s: %w", guid, domain.ErrInstanceNotFound)
	}
	return inst, nil
}

// Instances returns every open instance ordered by GUID.
func (s *Session) Instances() []*Instance {
	s.mu.RLock()
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].guid < out[b].guid })
	return out
}

// Close stops the instance with guid and releases its subscriptions.
func (s *Session) Close(guid string) error {
	s.mu.Lock()
	inst, ok := s.instances[guid]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: close %s: %w", guid, domain.ErrInstanceNotFound)
	}
	delete(s.instances, guid)
	if s.active == guid {
		s.active = ""
	}
	s.mu.Unlock()

	inst.Close()
	metrics.ActiveInstances.Dec()
	s.logger.Info("instance closed", slog.String("guid", guid))
	return nil
}

// Active returns the GUID of the active instance, if any.
func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Activate makes guid the instance that receives current-instance
// commands. Every other instance is deactivated.
func (s *Session) Activate(ctx context.Context, guid string) error {
	s.mu.Lock()
	if _, ok := s.instances[guid]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: activate %s: %w", guid, domain.ErrInstanceNotFound)
	}
	s.active = guid
	s.mu.Unlock()

	for _, inst := range s.Instances() {
		if err := inst.SetActive(ctx, inst.guid == guid); err != nil && !isClosed(err) {
			return fmt.Errorf("session: activate %s: %w", guid, err)
		}
	}
	return nil
}

// Terminal returns the terminal-wide settings.
func (s *Session) Terminal() domain.TerminalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminal
}

// UpdateTerminalSettings applies terminal-wide settings to every instance.
func (s *Session) UpdateTerminalSettings(ctx context.Context, ts domain.TerminalSettings) error {
	s.mu.Lock()
	s.terminal = ts
	s.mu.Unlock()

	for _, inst := range s.Instances() {
		if err := inst.SetTerminal(ctx, ts); err != nil && !isClosed(err) {
			return fmt.Errorf("session: terminal settings: %w", err)
		}
	}
	return nil
}

// Broadcast delivers a hotkey command to every instance concurrently and
// returns the outcome per instance. Instances decide for themselves whether
// the command applies to them.
func (s *Session) Broadcast(ctx context.Context, cmd domain.Command) (map[string]ladder.Outcome, error) {
	instances := s.Instances()
	outcomes := make(map[string]ladder.Outcome, len(instances))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		g.Go(func() error {
			out, err := inst.Command(gctx, cmd)
			if isClosed(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("session: broadcast %s to %s: %w", cmd.Type, inst.guid, err)
			}
			mu.Lock()
			outcomes[inst.guid] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Shutdown closes every instance and then the shared registries.
func (s *Session) Shutdown() {
	s.mu.Lock()
	instances := s.instances
	s.instances = make(map[string]*Instance)
	s.active = ""
	s.mu.Unlock()

	for _, inst := range instances {
		inst.Close()
		metrics.ActiveInstances.Dec()
	}

	s.deps.Books.Close()
	s.deps.Orders.Close()
	s.deps.Positions.Close()
	s.deps.Quotes.Close()
	s.logger.Info("session shut down", slog.Int("instances", len(instances)))
}
