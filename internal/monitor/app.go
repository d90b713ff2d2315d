// internal/monitor/app.go
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/forwardmon/internal/dedup"
	"github.com/user/forwardmon/internal/health"
	"github.com/user/forwardmon/internal/pacing"
	"github.com/user/forwardmon/internal/syncer"
	"github.com/user/forwardmon/internal/types"
)

const (
	defaultRetryDelay = 5 * time.Second
	minHealthInterval = 10 * time.Second
)

// state is the immutable-per-iteration configuration snapshot the monitor
// loop works from.
type state struct {
	Mappings []types.MappingConfig
	Runtime  types.RuntimeOptions
	Network  types.NetworkOptions
	Token    string
	TokenOK  bool
}

// NamedLoop is an externally supplied long-running loop run under the App's
// supervisor, such as the admin controller.
type NamedLoop struct {
	Name string
	Loop func(context.Context) error
}

// Options wire an App to its collaborators.
type Options struct {
	Store  types.ConfigRepository
	Source types.SourceFeed
	Sink   types.SinkFeed
	Render types.Renderer
	// RetryDelay overrides the fixed supervisor restart delay.
	RetryDelay time.Duration
}

// App is the coordinator: it owns configuration versioning, the
// refresh/health handshake, and runs the monitor and health loops under the
// supervisor. The invariant it enforces is that no mapping is ever processed
// under a configuration version that has not been health-verified at or
// after that version.
type App struct {
	store    types.ConfigRepository
	source   types.SourceFeed
	checker  *health.Checker
	registry *health.Registry
	engine   *syncer.Engine

	sourceRate *pacing.RateLimiter
	sinkRate   *pacing.RateLimiter

	refresh     *Event
	healthWake  *Event
	healthReady *Event

	mu            sync.Mutex
	configVersion int64
	healthVersion int64

	startup    time.Time
	retryDelay time.Duration
}

// New creates the coordinator and arms the initial refresh so the first
// monitor iteration performs a full reload.
func New(opts Options) *App {
	a := &App{
		store:         opts.Store,
		source:        opts.Source,
		sourceRate:    pacing.NewRateLimiter(0),
		sinkRate:      pacing.NewRateLimiter(0),
		refresh:       NewEvent(),
		healthWake:    NewEvent(),
		healthReady:   NewEvent(),
		healthVersion: -1,
		startup:       time.Now().UTC(),
		retryDelay:    opts.RetryDelay,
	}
	if a.retryDelay <= 0 {
		a.retryDelay = defaultRetryDelay
	}
	a.engine = syncer.New(syncer.Config{
		Source:         opts.Source,
		Sink:           opts.Sink,
		Store:          opts.Store,
		Render:         opts.Render,
		Dedup:          dedup.NewCache(dedup.DefaultCapacity),
		Guard:          pacing.NewKeyedMutex(),
		SinkRate:       a.sinkRate,
		Startup:        a.startup,
		RefreshPending: a.refresh.IsSet,
	})
	a.registry = health.NewRegistry(opts.Store.IterHealthStatuses())
	a.checker = health.NewChecker(opts.Store, opts.Source, a.registry, nil)
	a.markConfigDirty()
	a.refresh.Set()
	return a
}

// SetNotifier installs the admin notifier used for health transition
// messages. Must be called before Run.
func (a *App) SetNotifier(n types.Notifier) {
	a.checker.SetNotifier(n)
}

// Engine exposes the sync engine for manual forward actions; callers contend
// on the same per-mapping locks as the monitor loop.
func (a *App) Engine() *syncer.Engine { return a.engine }

// Registry exposes the in-memory health registry.
func (a *App) Registry() *health.Registry { return a.registry }

// StartupTime returns the process start marker.
func (a *App) StartupTime() time.Time { return a.startup }

// OnConfigChanged is the admin collaborator's change-notification entry
// point: it bumps the configuration version and wakes both loops.
func (a *App) OnConfigChanged() {
	a.markConfigDirty()
	a.refresh.Set()
	a.healthWake.Set()
}

// OnMappingRemoved releases per-mapping engine state after a deletion.
func (a *App) OnMappingRemoved(discordID string) {
	a.engine.ForgetMapping(discordID)
}

func (a *App) markConfigDirty() {
	a.mu.Lock()
	a.configVersion++
	a.mu.Unlock()
	a.healthReady.Clear()
}

// ConfigVersion returns the current configuration version.
func (a *App) ConfigVersion() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.configVersion
}

// HealthVersion returns the most recently health-verified version.
func (a *App) HealthVersion() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.healthVersion
}

func (a *App) setHealthVersion(v int64) {
	a.mu.Lock()
	a.healthVersion = v
	a.mu.Unlock()
}

// Run starts the monitor and health loops, plus any extra loops, each under
// the supervisor, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context, extras ...NamedLoop) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Supervise(ctx, "forward-monitor", a.retryDelay, a.monitorLoop)
	})
	g.Go(func() error {
		return Supervise(ctx, "health-monitor", a.retryDelay, a.healthLoop)
	})
	for _, extra := range extras {
		extra := extra
		g.Go(func() error {
			return Supervise(ctx, extra.Name, a.retryDelay, extra.Loop)
		})
	}
	return g.Wait()
}

// monitorLoop iterates mappings through the sync engine, reloading
// configuration whenever a refresh is pending and never before the health
// loop has verified the target version.
func (a *App) monitorLoop(ctx context.Context) error {
	current := a.reloadState()
	stateVersion := int64(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if a.refresh.IsSet() {
			for {
				a.refresh.Clear()
				target := a.ConfigVersion()
				if err := a.waitForHealth(ctx, target); err != nil {
					return err
				}
				if a.refresh.IsSet() {
					// A newer change arrived while waiting; never
					// apply a stale intermediate configuration.
					continue
				}
				current = a.reloadState()
				stateVersion = target
				a.source.SetCredential(current.Token)
				a.source.SetNetworkOptions(current.Network)
				a.sourceRate.SetRate(current.Runtime.RatePerSecond)
				a.sinkRate.SetRate(current.Runtime.RatePerSecond)
				slog.Info("configuration applied", "version", target, "mappings", len(current.Mappings))
				break
			}
		}

		if current.Token == "" || !current.TokenOK {
			if err := sleepCtx(ctx, 3*time.Second); err != nil {
				return err
			}
			continue
		}

		for i := range current.Mappings {
			if stateVersion < a.ConfigVersion() || a.refresh.IsSet() {
				break
			}
			if err := a.sourceRate.Wait(ctx); err != nil {
				return err
			}
			mapping := &current.Mappings[i]
			if _, err := a.engine.ProcessMapping(ctx, mapping, current.Runtime); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("mapping pass failed", "mapping", mapping.DiscordID, "error", err)
				if err := sleepCtx(ctx, time.Second); err != nil {
					return err
				}
			}
		}

		if _, err := a.refresh.WaitTimeout(ctx, current.Runtime.PollInterval); err != nil {
			return err
		}
	}
}

// healthLoop runs a full health pass on every wake, then publishes the
// verified version and releases any monitor iteration waiting on it.
func (a *App) healthLoop(ctx context.Context) error {
	first := true
	interval := 180 * time.Second
	for {
		if first {
			first = false
			if a.healthWake.IsSet() {
				a.healthWake.Clear()
			}
		} else {
			signalled, err := a.healthWake.WaitTimeout(ctx, interval)
			if err != nil {
				return err
			}
			if signalled {
				a.healthWake.Clear()
			}
		}

		target := a.ConfigVersion()
		current := a.reloadState()
		result := a.checker.RunPass(ctx, health.PassInput{
			Mappings: current.Mappings,
			Runtime:  current.Runtime,
			Network:  current.Network,
			Token:    current.Token,
		})
		if result.CredentialUpdated {
			// The normalized credential is a configuration change of its
			// own; the next pass re-verifies it.
			a.OnConfigChanged()
		}
		a.setHealthVersion(target)
		a.healthReady.Set()
		if result.Transitions {
			a.refresh.Set()
		}

		interval = current.Runtime.HealthInterval
		if interval < minHealthInterval {
			interval = minHealthInterval
		}
	}
}

// waitForHealth blocks until the health loop has verified at least the
// target configuration version.
func (a *App) waitForHealth(ctx context.Context, target int64) error {
	for a.HealthVersion() < target {
		if err := a.healthReady.Wait(ctx); err != nil {
			return err
		}
		if a.HealthVersion() < target {
			a.healthReady.Clear()
		}
	}
	return nil
}

func (a *App) reloadState() state {
	mappings, err := a.store.LoadMappings()
	if err != nil {
		slog.Error("load mappings", "error", err)
	}
	token, _ := a.store.GetSetting(types.SettingSourceToken)
	status, _ := a.store.GetHealthStatus(health.SubjectToken)
	return state{
		Mappings: mappings,
		Runtime:  a.store.LoadRuntimeOptions(),
		Network:  a.store.LoadNetworkOptions(),
		Token:    token,
		TokenOK:  status == types.HealthOK,
	}
}

// ForwardNow runs one immediate pass for the named mapping, bypassing the
// poll interval but not the health gate flags already on the snapshot.
func (a *App) ForwardNow(ctx context.Context, discordID string) (int, *types.MappingConfig, error) {
	mappings, err := a.store.LoadMappings()
	if err != nil {
		return 0, nil, fmt.Errorf("load mappings: %w", err)
	}
	for i := range mappings {
		if mappings[i].DiscordID == discordID {
			mapping := &mappings[i]
			forwarded, err := a.engine.ProcessMapping(ctx, mapping, a.store.LoadRuntimeOptions())
			return forwarded, mapping, err
		}
	}
	return 0, nil, fmt.Errorf("mapping not found: %s", discordID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
