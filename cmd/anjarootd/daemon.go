package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/Luminger/AnJaRoot/config"
	"github.com/Luminger/AnJaRoot/pkg/unixsocket"
	"github.com/Luminger/AnJaRoot/supervisor"
	"github.com/Luminger/AnJaRoot/trust"
)

// shutdownGrace bounds how long a shutdown waits for the tracer thread to
// leave wait4. Exiting releases every tracee in the kernel anyway.
const shutdownGrace = 2 * time.Second

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.spawnerSocket != "" {
		cfg.SpawnerSocket = opts.spawnerSocket
	}

	log, closeLog, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	var running atomic.Bool
	running.Store(true)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			running.Store(false)
			cancel()
		case <-ctx.Done():
		}
	}()

	lock, err := unixsocket.Lock(cfg.LockName)
	if err != nil {
		log.WithError(err).Error("claim instance lock")
		return err
	}
	defer lock.Close()

	oracle, closeOracle := newOracle(cfg.Trust, log)
	defer closeOracle()

	log.WithFields(logrus.Fields{
		"version": version,
		"spawner": cfg.SpawnerSocket,
		"granter": cfg.Trust.GranterPackage,
	}).Info("anjarootd starting")

	d := &daemon{
		cfg:      cfg,
		log:      log,
		oracle:   oracle,
		running:  &running,
		discover: unixsocket.PeerPid,
		runEpoch: func(c supervisor.Config) supervisor.Result { return supervisor.New(c).Run() },
	}

	done := make(chan error, 1)
	go func() { done <- d.superviseUntilShutdown(ctx) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		select {
		case err = <-done:
		case <-time.After(shutdownGrace):
			log.Warn("tracer still waiting for events, exiting")
		}
	}
	if err != nil {
		log.WithError(err).Error("supervision failed")
		return err
	}
	log.Info("anjarootd stopped")
	return nil
}

func newOracle(cfg config.TrustConfig, log logrus.FieldLogger) (trust.Oracle, func()) {
	src := trust.Sources{
		Registry:  cfg.Registry,
		Granter:   cfg.GranterPackage,
		DataRoot:  cfg.DataRoot,
		AllowList: cfg.AllowList,
	}
	log = log.WithField("component", "trust")
	if cfg.Watch {
		o, err := trust.NewWatchedOracle(src, log)
		if err == nil {
			return o, func() { o.Close() }
		}
		log.WithError(err).Warn("watching trust sources failed, reading them on every query")
	}
	return trust.NewFileOracle(src, log), func() {}
}

type daemon struct {
	cfg     *config.Config
	log     logrus.Ext1FieldLogger
	oracle  trust.Oracle
	running *atomic.Bool

	discover func(addr string) (int, error)
	runEpoch func(supervisor.Config) supervisor.Result
}

// superviseUntilShutdown runs epochs until one ends with a shutdown. Lost
// spawners and setup failures are retried after a fixed delay.
func (d *daemon) superviseUntilShutdown(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(d.cfg.RestartDelay), ctx)
	err := backoff.RetryNotify(d.epoch, b, func(err error, next time.Duration) {
		d.log.WithError(err).WithField("restart_in", next.String()).Warn("supervision epoch ended")
	})
	if !d.running.Load() {
		return nil
	}
	return err
}

func (d *daemon) epoch() error {
	if !d.running.Load() {
		return nil
	}
	pid, err := d.discover(d.cfg.SpawnerSocket)
	if err != nil {
		return fmt.Errorf("locate spawner: %w", err)
	}
	res := d.runEpoch(supervisor.Config{
		Oracle:     d.oracle,
		Log:        d.log,
		Running:    d.running,
		SpawnerPid: pid,
	})
	d.log.WithField("result", res.String()).Info("supervision epoch finished")
	if !res.Status.Restart() {
		return nil
	}
	return res.Status
}
