package libroutine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LoopConfig describes a keyed loop started through Group.StartLoop.
type LoopConfig struct {
	Key          string
	Threshold    int
	ResetTimeout time.Duration
	Interval     time.Duration
	Operation    func(ctx context.Context) error
}

// Group keeps one Routine and at most one running loop per key.
type Group struct {
	mu       sync.Mutex
	managers map[string]*Routine
	triggers map[string]chan struct{}
	active   map[string]bool
}

var (
	groupOnce     sync.Once
	groupInstance *Group
)

// GetGroup returns the process wide group.
func GetGroup() *Group {
	groupOnce.Do(func() {
		groupInstance = &Group{
			managers: make(map[string]*Routine),
			triggers: make(map[string]chan struct{}),
			active:   make(map[string]bool),
		}
	})
	return groupInstance
}

// StartLoop starts cfg.Operation under the routine registered for cfg.Key.
// Calls for a key whose loop is already running are ignored. The routine and
// its breaker parameters outlive the loop, so a later restart keeps them.
func (g *Group) StartLoop(ctx context.Context, cfg *LoopConfig) {
	g.mu.Lock()
	if g.active[cfg.Key] {
		g.mu.Unlock()
		return
	}
	rm, ok := g.managers[cfg.Key]
	if !ok {
		rm = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
		g.managers[cfg.Key] = rm
	}
	trigger, ok := g.triggers[cfg.Key]
	if !ok {
		trigger = make(chan struct{}, 1)
		g.triggers[cfg.Key] = trigger
	}
	g.active[cfg.Key] = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			delete(g.active, cfg.Key)
			g.mu.Unlock()
		}()
		rm.Loop(ctx, cfg.Interval, trigger, cfg.Operation, func(err error) {
			slog.Debug("routine loop iteration failed", "key", cfg.Key, "error", err)
		})
	}()
}

// ForceUpdate requests an immediate run of the loop for key. It never blocks;
// a pending request absorbs further ones.
func (g *Group) ForceUpdate(key string) {
	g.mu.Lock()
	trigger, ok := g.triggers[key]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
}

func (g *Group) IsLoopActive(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[key]
}

func (g *Group) GetManager(key string) *Routine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.managers[key]
}
