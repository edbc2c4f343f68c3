// Command ruleloader runs the Rule Loader process: drains
// the Queue and installs descriptors into the mock server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshtap/meshtap/internal/logging"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/ruleloader"
	"github.com/meshtap/meshtap/internal/ruleloader/mockserver"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	log := logging.New(os.Stderr, envOr("MESHTAP_LOG_LEVEL", "info"))
	onError := logging.OnError(log)

	opts := ruleloader.Options{}
	if err := parseOptions(&opts); err != nil {
		log.Error("fatal configuration", "error", err)
		os.Exit(1)
	}

	backend, err := queue.NewRedisBackend(queue.RedisConfig{Addr: opts.QueueEndpoint, Password: opts.QueuePassword})
	if err != nil {
		log.Error("fatal configuration", "error", err)
		os.Exit(1)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = backend.Ping(pingCtx)
	pingCancel()
	if err != nil {
		log.Error("fatal configuration", "error", fmt.Errorf("queue unreachable at startup: %w", err))
		os.Exit(1)
	}
	q := queue.New(backend, queue.Config{ListName: opts.QueueListName, DLQName: opts.QueueDLQName})

	client := mockserver.New(opts.MockServerURL, opts.MockServerTimeout)

	var backup *ruleloader.BackupSink
	if opts.BackupSinkPath != "" {
		backup, err = ruleloader.OpenBackupSink(opts.BackupSinkPath)
		if err != nil {
			log.Error("fatal configuration", "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewRuleLoader(registry, log)

	loader := ruleloader.NewLoader(opts, q, client, backup, m, onError)

	httpServer := &http.Server{Addr: opts.HTTPListenAddr, Handler: m.Handler(registry)}
	go func() {
		log.Info("ruleloader http listening", "addr", opts.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http serve", "error", err)
		}
	}()

	go loader.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	loader.Stop()
	if backup != nil {
		_ = backup.Close()
	}
	_ = q.Close()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
