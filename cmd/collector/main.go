// Command collector runs the Collector process: the gRPC
// ingest edge for sidecar tap traffic.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshtap/meshtap/internal/collector"
	"github.com/meshtap/meshtap/internal/dedup"
	"github.com/meshtap/meshtap/internal/logging"
	"github.com/meshtap/meshtap/internal/metrics"
	"github.com/meshtap/meshtap/internal/queue"
	"github.com/meshtap/meshtap/internal/sanitize"
	"github.com/meshtap/meshtap/internal/tappb"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

func main() {
	log := logging.New(os.Stderr, envOr("MESHTAP_LOG_LEVEL", "info"))
	onError := logging.OnError(log)

	opts := collector.Options{}
	if err := parseOptions(&opts); err != nil {
		log.Error("fatal configuration", "error", err)
		os.Exit(1)
	}

	san, err := sanitize.New(sanitize.Config{
		Patterns:       sanitize.DefaultPatterns(),
		HeaderDenylist: sanitize.DefaultHeaderDenylist(),
		FieldDenylist:  sanitize.DefaultFieldDenylist(),
		MaxBodyBytes:   opts.MaxBodyBytes,
	})
	if err != nil {
		log.Error("fatal configuration", "error", err)
		os.Exit(1)
	}

	dd, err := dedup.New(dedup.Config{CacheSize: opts.DedupCacheSize, BodyLimit: opts.DedupBodyLimit})
	if err != nil {
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

	registry := prometheus.NewRegistry()
	m := metrics.NewCollector(registry, log)

	pipeline := collector.NewPipeline(opts, san, dd, q, m, onError)
	server := collector.NewServer(pipeline, onError)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(tappb.Codec()))
	grpcServer.RegisterService(&tappb.ServiceDesc, server)

	lis, err := net.Listen("tcp", opts.GRPCListenAddr)
	if err != nil {
		log.Error("listen", "addr", opts.GRPCListenAddr, "error", err)
		os.Exit(1)
	}

	go func() {
		log.Info("collector grpc listening", "addr", opts.GRPCListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc serve", "error", err)
		}
	}()

	httpServer := &http.Server{Addr: opts.HTTPListenAddr, Handler: m.Handler(registry)}
	go func() {
		log.Info("collector http listening", "addr", opts.HTTPListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http serve", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	grpcServer.GracefulStop()
	pipeline.Close(10 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	_ = q.Close()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
