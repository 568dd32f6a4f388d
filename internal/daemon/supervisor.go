// Package daemon wires the automute components together and owns startup
// and cooperative shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/automute/internal/domain"
	"github.com/eliteGoblin/focusd/automute/internal/infra"
	"github.com/eliteGoblin/focusd/automute/internal/metrics"
	"github.com/eliteGoblin/focusd/automute/internal/policy"
	"github.com/eliteGoblin/focusd/automute/internal/ui"
	"github.com/eliteGoblin/focusd/automute/internal/usecase"
)

// instanceLock guards against a second running daemon.
type instanceLock interface {
	Acquire(entry domain.InstanceEntry) error
	Release(pid int) error
}

// Platform bundles the platform collaborators of the core.
type Platform struct {
	Windows   domain.WindowDirectory
	Focus     domain.FocusSource
	Processes domain.ProcessDirectory
	Backend   domain.MuteBackend
	Shell     domain.Shell
	Journal   domain.MuteJournal // Optional
	Instance  instanceLock       // Optional
	Control   controlExporter    // Optional
	Clock     usecase.Clock      // Optional, defaults to the system clock
}

// NewPlatform builds the Linux desktop platform: GNOME Shell windows,
// pactl audio and the SQLCipher mute journal.
func NewPlatform(cfg Config, paths infra.Paths, logger *zap.Logger) (*Platform, error) {
	processes := infra.NewProcessDirectory()

	bus, err := infra.NewSessionBusCaller()
	if err != nil {
		return nil, err
	}
	windows := infra.NewShellWindows(bus, processes)

	var backend domain.MuteBackend = infra.NewPulseBackend()
	if cfg.DryRun {
		backend = infra.NewDryRunBackend(logger)
	}

	p := &Platform{
		Windows:   windows,
		Focus:     windows,
		Processes: processes,
		Backend:   backend,
		Shell:     infra.NewShell(),
		Instance:  infra.NewInstanceFile(paths.InstanceFile, processes),
	}

	control, err := infra.NewSessionControlBus()
	if err != nil {
		logger.Warn("control channel unavailable", zap.Error(err))
	} else {
		p.Control = control
	}

	journal, err := infra.OpenJournal(paths.DataDir)
	if err != nil {
		logger.Warn("mute journal unavailable, crash recovery disabled", zap.Error(err))
	} else {
		p.Journal = journal
	}
	return p, nil
}

// Close releases platform resources.
func (p *Platform) Close() error {
	if p.Journal != nil {
		return p.Journal.Close()
	}
	return nil
}

// Supervisor runs the core, the mute proxy, the window listener and the
// config watcher for the lifetime of the daemon.
type Supervisor struct {
	config      Config
	paths       infra.Paths
	platform    Platform
	about       domain.AboutInfo
	proxyConfig usecase.ProxyConfig
	metrics     *metrics.Metrics
	slot        *SenderSlot
	logger      *zap.Logger

	// Set after Run has initialised the presenter.
	presenterMu sync.Mutex
	presenter   *ui.Presenter
}

// NewSupervisor creates a supervisor.
func NewSupervisor(config Config, paths infra.Paths, platform Platform, about domain.AboutInfo, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		config:      config,
		paths:       paths,
		platform:    platform,
		about:       about,
		proxyConfig: usecase.DefaultProxyConfig(),
		metrics:     metrics.New(),
		slot:        ActiveSender(),
		logger:      logger,
	}
}

// Metrics returns the supervisor's metric set.
func (s *Supervisor) Metrics() *metrics.Metrics {
	return s.metrics
}

// Presenter returns the UI presenter once Run has started the window
// listener, else nil.
func (s *Supervisor) Presenter() *ui.Presenter {
	s.presenterMu.Lock()
	defer s.presenterMu.Unlock()
	return s.presenter
}

// Run blocks until the core exits (ExitApplication, a termination signal
// or ctx cancellation), then shuts every worker down in order.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pid := os.Getpid()
	if s.platform.Instance != nil {
		entry := domain.InstanceEntry{
			PID:        pid,
			StartedAt:  time.Now(),
			AppVersion: s.about.Version,
			ConfigPath: s.paths.ConfigFile,
		}
		if err := s.platform.Instance.Acquire(entry); err != nil {
			return err
		}
		defer func() {
			if err := s.platform.Instance.Release(pid); err != nil {
				s.logger.Warn("failed to release instance file", zap.Error(err))
			}
		}()
	}

	backend := s.platform.Backend
	if s.platform.Journal != nil {
		n, err := infra.RecoverJournal(s.platform.Journal, backend, s.platform.Processes, s.logger)
		if err != nil {
			s.logger.Warn("mute journal recovery failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("recovered mutes from previous run", zap.Int("count", n))
		}
		backend = infra.NewJournalingBackend(backend, s.platform.Journal, s.platform.Processes, s.logger)
	}

	proxy := usecase.NewMuteProxy(s.proxyConfig, backend, s.platform.Processes, s.platform.Clock, s.metrics, s.logger.Named("proxy"))
	var workers errgroup.Group
	workers.Go(func() error {
		proxy.Run()
		return nil
	})
	stopWorkers := func() error {
		proxy.Close()
		return workers.Wait()
	}

	var core *usecase.Core
	send := func(cmd domain.Command) bool { return core.Submit(ctx, cmd) }

	presenter := ui.NewPresenter(send, s.paths.StateFile, s.logger.Named("ui"))
	store := policy.NewFileStore(s.paths.ConfigFile)
	coreConfig := usecase.DefaultCoreConfig()
	coreConfig.ExcludedPaths = s.config.Excluded()
	coreConfig.About = s.about
	core = usecase.NewCore(coreConfig, store, s.platform.Windows, s.platform.Processes, proxy, presenter, s.platform.Shell, s.metrics, s.logger.Named("core"))

	if err := core.Init(); err != nil {
		_ = stopWorkers()
		return fmt.Errorf("failed to initialise: %w", err)
	}

	listener := NewListener(s.config.PollInterval, s.platform.Focus, s.slot, s.logger.Named("listener"))
	if err := listener.Start(send); err != nil {
		_ = stopWorkers()
		return fmt.Errorf("failed to start window listener: %w", err)
	}

	watcher := policy.NewWatcher(store, func() { send(domain.ReloadConfig{}) }, s.logger.Named("config"))
	if err := watcher.Start(ctx); err != nil {
		s.logger.Warn("config file watching disabled", zap.Error(err))
		watcher = nil
	}

	releaseControl := func() error { return nil }
	if s.platform.Control != nil {
		release, err := s.platform.Control.Export(NewControl(presenter))
		if err != nil {
			s.logger.Warn("control channel disabled", zap.Error(err))
		} else {
			releaseControl = release
		}
	}

	stopSignals := s.relaySignals(send)

	// Published last: a non-nil Presenter means the listener is running.
	s.presenterMu.Lock()
	s.presenter = presenter
	s.presenterMu.Unlock()

	if s.config.MetricsAddr != "" {
		workers.Go(func() error {
			return s.metrics.Serve(ctx, s.config.MetricsAddr, s.logger)
		})
	}

	s.logger.Info("automute running",
		zap.Int("pid", pid),
		zap.String("config", store.Path()),
		zap.Bool("dry_run", s.config.DryRun))

	err := core.Run(ctx)

	if releaseErr := releaseControl(); releaseErr != nil {
		s.logger.Warn("control channel release", zap.Error(releaseErr))
	}
	// Unblock producers before joining workers.
	cancel()
	stopSignals()
	if workerErr := stopWorkers(); workerErr != nil {
		s.logger.Warn("metrics server failed", zap.Error(workerErr))
	}
	if stopErr := listener.Stop(); stopErr != nil {
		s.logger.Warn("window listener stop", zap.Error(stopErr))
	}
	if watcher != nil {
		watcher.Stop()
	}
	s.logger.Info("automute stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// relaySignals turns process signals into core commands until the returned
// stop function is called.
func (s *Supervisor) relaySignals(send Sender) func() {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				cmd := commandForSignal(sig)
				if cmd == nil {
					continue
				}
				s.logger.Info("received signal",
					zap.String("signal", sig.String()),
					zap.String("command", domain.CommandName(cmd)))
				send(cmd)
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
		wg.Wait()
	}
}

func commandForSignal(sig os.Signal) domain.Command {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return domain.ExitApplication{}
	case syscall.SIGHUP:
		return domain.ReloadConfig{}
	case syscall.SIGUSR1:
		return domain.ForceUnmuteAll{}
	}
	return nil
}
