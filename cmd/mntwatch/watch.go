package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opcoder0/mntmonitor"
	"github.com/opcoder0/mntmonitor/internal/config"
	"github.com/opcoder0/mntmonitor/internal/logging"
	"github.com/opcoder0/mntmonitor/internal/metrics"
	"go.uber.org/zap"
)

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, log); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	monitor, err := mntmonitor.New(
		mntmonitor.WithLogger(log.Named("monitor")),
		mntmonitor.WithKernelVeiled(cfg.Veiled),
		mntmonitor.WithVeilMarker(cfg.VeilMarker),
	)
	if err != nil {
		return err
	}
	defer monitor.Close()

	// the namespace file must stay open while the monitor uses it
	var nsFile *os.File
	if cfg.Namespace != "" {
		nsFile, err = os.Open(cfg.Namespace)
		if err != nil {
			return fmt.Errorf("open namespace: %w", err)
		}
		defer nsFile.Close()
	}
	if err := enable(monitor, cfg, nsFile, log); err != nil {
		return err
	}

	metrics.SetUp(true)
	defer metrics.SetUp(false)
	log.Info("watching mount table", zap.String("namespace", cfg.Namespace), zap.Bool("classic", cfg.Classic))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ok, err := monitor.Wait(cfg.Timeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := drain(monitor, cfg, log); err != nil {
			return err
		}
	}
}

func enable(monitor *mntmonitor.Monitor, cfg *config.Config, nsFile *os.File, log *zap.Logger) error {
	if cfg.Classic {
		if err := monitor.EnableKernel(true); err != nil {
			metrics.ObserveEnableFailure(mntmonitor.TypeKernel.String())
			return err
		}
		return nil
	}
	ns := -1
	if nsFile != nil {
		ns = int(nsFile.Fd())
	}
	err := monitor.EnableFanotify(true, ns)
	if err == nil {
		return nil
	}
	metrics.ObserveEnableFailure(mntmonitor.TypeFanotify.String())
	if nsFile != nil {
		return err
	}
	log.Warn("fanotify mount events unavailable, using kernel monitor",
		zap.Error(err),
		zap.NamedError("support", mntmonitor.CheckFanotifySupport()))
	if err := monitor.EnableKernel(true); err != nil {
		metrics.ObserveEnableFailure(mntmonitor.TypeKernel.String())
		return err
	}
	return nil
}

func drain(monitor *mntmonitor.Monitor, cfg *config.Config, log *zap.Logger) error {
	for {
		change, err := monitor.NextChange()
		if err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		metrics.ObserveChange(change.Type.String())
		if change.Type != mntmonitor.TypeFanotify {
			log.Info("mount table changed", zap.String("path", change.Path))
			continue
		}
		for event, ok := monitor.NextEvent(); ok; event, ok = monitor.NextEvent() {
			metrics.ObserveEvent(event.Action.String())
			if event.Action.Has(mntmonitor.QueueOverflow) {
				log.Warn("mount events lost, kernel queue overflowed", zap.String("namespace", change.Path))
				continue
			}
			fields := []zap.Field{
				zap.String("namespace", change.Path),
				zap.Stringer("action", event.Action),
				zap.Uint64("mnt_id", event.MountID),
			}
			// mountinfo only describes the namespace of the process
			if cfg.Resolve && cfg.Namespace == "" && event.Action.Has(mntmonitor.MountAttached) {
				if info, err := mntmonitor.LookupMount(event.MountID); err != nil {
					metrics.LookupFailuresTotal.Inc()
					fields = append(fields, zap.NamedError("lookup", err))
				} else {
					fields = append(fields,
						zap.String("target", info.Mountpoint),
						zap.String("fstype", info.FSType),
						zap.String("source", info.Source))
				}
			}
			log.Info("mount event", fields...)
		}
	}
}
