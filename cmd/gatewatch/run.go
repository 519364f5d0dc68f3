package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/breeze-rmm/gatewatch/internal/audit"
	"github.com/breeze-rmm/gatewatch/internal/config"
	"github.com/breeze-rmm/gatewatch/internal/discord"
	"github.com/breeze-rmm/gatewatch/internal/health"
	"github.com/breeze-rmm/gatewatch/internal/logging"
	"github.com/breeze-rmm/gatewatch/internal/monitor"
	"github.com/breeze-rmm/gatewatch/internal/probe"
	"github.com/breeze-rmm/gatewatch/internal/report"
	"github.com/breeze-rmm/gatewatch/internal/router"
	"github.com/breeze-rmm/gatewatch/internal/secmem"
	"github.com/breeze-rmm/gatewatch/internal/session"
	"github.com/breeze-rmm/gatewatch/internal/totp"
	"github.com/breeze-rmm/gatewatch/internal/workerpool"
)

var log = logging.L("main")

const drainTimeout = 10 * time.Second

// components holds everything runBot starts so shutdown can stop it in
// order.
type components struct {
	cfg       *config.Config
	token     *secmem.Secret
	secret    *secmem.Secret
	logFile   *logging.RotatingWriter
	audit     *audit.Logger
	transport *discord.Transport
	pool      *workerpool.Pool
	monitor   *monitor.Monitor
	ready     chan struct{}
}

func runBot() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		for _, e := range result.Fatals {
			fmt.Fprintf(os.Stderr, "config: %v\n", e)
		}
		return &exitError{code: 1, msg: "invalid configuration"}
	}

	c, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		select {
		case <-c.ready:
			c.monitor.Start(ctx)
		case <-ctx.Done():
		}
	}()

	if err := c.transport.Open(); err != nil {
		cancel()
		<-monitorDone
		c.close()
		return err
	}
	log.Info("gatewatch started", "version", version, "address", cfg.Address(), "subscribers", len(cfg.AlertSubscribers))
	c.audit.Log(audit.EventBotStart, "", map[string]any{"version": version, "address": cfg.Address()})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if c.logFile != nil {
				if err := c.logFile.Reopen(); err != nil {
					log.Warn("log reopen failed", logging.KeyError, err)
				}
			}
			continue
		}
		log.Info("shutting down", "signal", sig.String())
		break
	}
	signal.Stop(sigChan)

	cancel()
	<-monitorDone

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	c.pool.Shutdown(drainCtx)
	drainCancel()

	if err := c.transport.Close(); err != nil {
		log.Warn("transport close failed", logging.KeyError, err)
	}
	c.audit.Log(audit.EventBotStop, "", nil)
	c.close()
	return nil
}

func buildComponents(cfg *config.Config) (*components, error) {
	logFile, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	c := &components{
		cfg:     cfg,
		token:   secmem.New(cfg.AuthToken),
		secret:  secmem.New(cfg.TOTPSecret),
		logFile: logFile,
		ready:   make(chan struct{}),
	}
	cfg.AuthToken = ""
	cfg.TOTPSecret = ""

	if cfg.AuditFile != "" {
		c.audit, err = audit.NewLogger(cfg.AuditFile, cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
	}

	registry := health.NewRegistry()
	prober := probe.NewTCP(cfg.ProbeTimeout())

	c.transport, err = discord.New(c.token, registry)
	if err != nil {
		c.close()
		return nil, err
	}

	store := session.NewStore()
	machine := session.NewMachine(store, c.transport, totp.NewVerifier(c.secret),
		report.NewReporter(cfg.Address(), prober, registry),
		session.WithAdminCommand(cfg.AdminCommand),
		session.WithGreeting(cfg.AdminGreeting),
		session.WithErrorTTL(cfg.ErrorMessageTTL()),
		session.WithAudit(c.audit),
	)

	c.monitor = monitor.New(monitor.Config{
		Address:     cfg.Address(),
		Interval:    cfg.CheckInterval(),
		Subscribers: cfg.AlertSubscribers,
	}, prober, c.transport, monitor.WithHealth(registry), monitor.WithAudit(c.audit))

	c.pool = workerpool.New(cfg.MaxWorkers, cfg.EventQueueSize)
	rt := router.New(c.pool, store, machine,
		router.WithContext(c.pool.Context()),
		router.WithReadyHook(func(string) {
			close(c.ready)
			go c.checkSubscribers(c.pool.Context())
		}),
	)
	c.transport.Bind(rt)
	return c, nil
}

// checkSubscribers warns about alert subscribers the bot cannot resolve.
// Alerts to them will fail.
func (c *components) checkSubscribers(ctx context.Context) {
	for _, id := range c.cfg.AlertSubscribers {
		name, err := c.transport.FetchUser(ctx, id)
		if err != nil {
			log.Warn("alert subscriber not found", logging.KeyUserID, id, logging.KeyError, err)
			continue
		}
		log.Info("alert subscriber", logging.KeyUserID, id, "name", name)
	}
}

func (c *components) close() {
	if err := c.audit.Close(); err != nil {
		log.Warn("audit close failed", logging.KeyError, err)
	}
	if c.logFile != nil {
		c.logFile.Close()
	}
	c.token.Zero()
	c.secret.Zero()
}
