package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/egress-guard/internal/guard/common/clock"
	"github.com/haukened/egress-guard/internal/guard/common/log"
	"github.com/haukened/egress-guard/internal/guard/common/metrics"
	"github.com/haukened/egress-guard/internal/guard/config"
	"github.com/haukened/egress-guard/internal/guard/gateways/capture"
	"github.com/haukened/egress-guard/internal/guard/gateways/firewall"
	"github.com/haukened/egress-guard/internal/guard/gateways/resolver"
	"github.com/haukened/egress-guard/internal/guard/gateways/wire"
	"github.com/haukened/egress-guard/internal/guard/repos/auditlog"
	"github.com/haukened/egress-guard/internal/guard/repos/blockregistry"
	"github.com/haukened/egress-guard/internal/guard/repos/trustlist"
	"github.com/haukened/egress-guard/internal/guard/repos/trustlist/bloom"
	"github.com/haukened/egress-guard/internal/guard/repos/trustlist/lru"
	"github.com/haukened/egress-guard/internal/guard/services/classifier"
	"github.com/haukened/egress-guard/internal/guard/services/monitor"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "egress-guardd"

	defaultShutdownTimeout = 5 * time.Second
)

// captureStream is a running capture collaborator.
type captureStream interface {
	monitor.LineSource
	Wait() error
}

// Application holds all the components of the guard daemon
type Application struct {
	config   *config.AppConfig
	logger   log.Logger
	monitor  *monitor.Monitor
	audit    *auditlog.Store
	registry *blockregistry.Store
	// baseFirewall is the unrecorded manager used to replay the registry.
	baseFirewall  firewall.Manager
	metricsServer *http.Server
	startCapture  func(ctx context.Context) (captureStream, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"interface": cfg.Interface,
		"firewall":  cfg.FirewallBackend,
		"audit_db":  cfg.AuditDB,
	}, "Starting egress guard")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err.Error()}, "Failed to build application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error releasing resources")
	}
	if runErr != nil {
		log.Fatal(map[string]any{"error": runErr.Error()}, "Guard failed")
	}

	log.Info(nil, appName+" stopped")
}

// buildApplication constructs all components and wires them together.
// On error, anything already opened is closed.
func buildApplication(cfg *config.AppConfig) (_ *Application, err error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	app := &Application{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, app.Close())
		}
	}()

	trust, err := buildTrustList(cfg, logger, clk.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to build trust list: %w", err)
	}

	app.audit, err = auditlog.Open(cfg.AuditDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	log.Info(map[string]any{"path": cfg.AuditDB}, "Audit log opened")

	if cfg.StateDB != "" {
		app.registry, err = blockregistry.Open(cfg.StateDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open block registry: %w", err)
		}
		st := app.registry.Stats()
		log.Info(map[string]any{"path": cfg.StateDB, "blocked": st.Blocked}, "Block registry opened")
	}

	app.baseFirewall, err = buildFirewall(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build firewall: %w", err)
	}
	fw := app.baseFirewall
	if app.registry != nil {
		fw = firewall.NewRecording(app.baseFirewall, app.registry, clk, logger)
	}

	dnsResolver := resolver.New(resolver.Options{
		Servers: cfg.Resolvers,
		Timeout: cfg.ResolveTimeout,
		Logger:  logger,
	})

	var recorder metrics.Recorder
	if cfg.MetricsAddr != "" {
		reg := metrics.New()
		recorder = reg
		app.metricsServer = reg.NewServer(cfg.MetricsAddr)
	}

	app.monitor = monitor.New(monitor.Options{
		Codec:      wire.NewTcpdumpCodec(logger),
		Classifier: classifier.New(trust),
		Resolver:   dnsResolver,
		Firewall:   fw,
		AuditLog:   app.audit,
		Clock:      clk,
		Logger:     logger,
		Metrics:    recorder,
	})

	argv, err := capture.Split(cfg.CaptureArgv())
	if err != nil {
		return nil, fmt.Errorf("invalid capture command: %w", err)
	}
	app.startCapture = func(ctx context.Context) (captureStream, error) {
		p, err := capture.Start(ctx, argv, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	return app, nil
}

func buildTrustList(cfg *config.AppConfig, logger log.Logger, now time.Time) (trustlist.Repository, error) {
	rules, err := trustlist.LoadRules(trustlist.Sources{
		Names:     cfg.TrustedDomains,
		Directory: cfg.TrustDir,
		HostsFile: cfg.TrustHostsFile,
	}, logger, now)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(cfg.TrustCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision cache: %w", err)
	}

	repo := trustlist.NewRepository(rules, cache, bloom.NewFactory(), trustlist.DefaultFPRate)
	st := repo.RepoStats()
	log.Info(map[string]any{
		"exact":      st.ExactRules,
		"suffix":     st.SuffixRules,
		"cache_size": cfg.TrustCacheSize,
	}, "Trust list initialized")
	return repo, nil
}

func buildFirewall(cfg *config.AppConfig, logger log.Logger) (firewall.Manager, error) {
	fw, err := firewall.NewBackend(cfg.FirewallBackend, cfg.FirewallChain, logger)
	if err != nil {
		return nil, err
	}
	if cfg.FirewallBackend == firewall.BackendMemory {
		log.Warn(nil, "Memory firewall backend selected: no rules reach the kernel")
	} else {
		log.Info(map[string]any{"chain": cfg.FirewallChain}, "iptables firewall configured")
	}
	return fw, nil
}

// Run restores recorded blocks, starts the capture process and monitors its
// output until the stream closes or ctx is canceled.
func (app *Application) Run(ctx context.Context) error {
	if app.registry != nil && app.config.RestoreBlocks {
		if _, err := firewall.Restore(ctx, app.baseFirewall, app.registry, app.logger); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Some recorded blocks could not be restored")
		}
	}

	if app.metricsServer != nil {
		go func() {
			if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(map[string]any{"error": err.Error(), "addr": app.metricsServer.Addr}, "Metrics server failed")
			}
		}()
		log.Info(map[string]any{"addr": app.metricsServer.Addr}, "Metrics server started")
		defer app.stopMetrics()
	}

	stream, err := app.startCapture(ctx)
	if err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	runErr := app.monitor.Run(ctx, stream)
	waitErr := stream.Wait()

	if ctx.Err() != nil {
		// the capture process was killed on purpose
		log.Info(nil, "Shutdown initiated")
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("capture stream failed: %w", runErr)
	}
	if waitErr != nil {
		return waitErr
	}
	log.Info(nil, "Capture stream closed")
	return nil
}

func (app *Application) stopMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := app.metricsServer.Shutdown(ctx); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Metrics server shutdown failed")
	}
}

// Close releases the audit log and block registry.
func (app *Application) Close() error {
	var err error
	if app.audit != nil {
		err = multierr.Append(err, app.audit.Close())
		app.audit = nil
	}
	if app.registry != nil {
		err = multierr.Append(err, app.registry.Close())
		app.registry = nil
	}
	return err
}
