package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/config"
	"github.com/strefethen/castbridge/internal/devices"
	"github.com/strefethen/castbridge/internal/discovery"
	"github.com/strefethen/castbridge/internal/server"
	"github.com/strefethen/castbridge/internal/soap"
	"github.com/strefethen/castbridge/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("app", "castbridge")

	endpointStore, err := store.Open(log.WithField("component", "store"), cfg.StorePath)
	if err != nil {
		log.WithError(err).Warn("endpoint store unavailable, continuing without it")
		endpointStore = nil
	}
	for _, ip := range cfg.StaticDeviceIPs {
		if endpointStore != nil {
			endpointStore.Touch(ip)
		}
	}

	registry := devices.NewRegistry(log.WithField("component", "registry"))
	soapClient := soap.NewClient(log.WithField("component", "soap"), time.Duration(cfg.SoapTimeoutMs)*time.Millisecond)
	resolver := devices.NewResolver(log.WithField("component", "topology"), soapClient)

	var known discovery.KnownEndpoints
	if endpointStore != nil {
		known = endpointStore
	}
	manager := discovery.NewManager(log.WithField("component", "discovery"), discovery.Options{
		FetchTimeout:  time.Duration(cfg.FetchTimeoutMs) * time.Millisecond,
		SettleWindow:  time.Duration(cfg.SettleWindowMs) * time.Millisecond,
		AdvertEnabled: cfg.AdvertEnabled,
	}, registry, resolver, known)

	if err := manager.Start(); err != nil {
		log.WithError(err).Fatal("starting discovery")
	}

	scheduler := cron.New()
	if cfg.RescanInterval != "" {
		spec := fmt.Sprintf("@every %s", cfg.RescanInterval)
		if _, err := scheduler.AddFunc(spec, func() {
			manager.Reset(true)
			manager.Boost()
		}); err != nil {
			log.WithError(err).Warn("invalid rescan interval, periodic rescan disabled")
		}
	}
	scheduler.Start()

	api := server.New(log.WithField("component", "server"), registry, manager, soapClient)
	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		log.Info("shutting down")
		scheduler.Stop()
		manager.Stop()
		if endpointStore != nil {
			endpointStore.Close()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.Infof("castbridge listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server error")
	}
}
