package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/admitd/admitd/internal/auth"
	"github.com/admitd/admitd/internal/config"
	"github.com/admitd/admitd/internal/gateway"
	"github.com/admitd/admitd/internal/obs"
	"github.com/admitd/admitd/internal/ratelimit"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	rules := make([]ratelimit.Rule, 0, len(cfg.RateLimit.Rules))
	for _, r := range cfg.RateLimit.Rules {
		rules = append(rules, ratelimit.Rule{
			Prefix:        r.PathPrefix,
			MaxRequests:   r.MaxRequests,
			WindowSeconds: r.WindowSeconds,
		})
	}
	table, err := ratelimit.NewTable(
		ratelimit.Rule{
			MaxRequests:   cfg.RateLimit.Default.MaxRequests,
			WindowSeconds: cfg.RateLimit.Default.WindowSeconds,
		},
		rules,
		cfg.RateLimit.ExemptPaths,
		cfg.RateLimit.Multiplier(),
	)
	if err != nil {
		log.Fatalf("build policy table: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	decider := ratelimit.NewDecider(
		table,
		ratelimit.NewIdentifierResolver(cfg.RateLimit.TrustForwardedFor),
		logger,
		ratelimit.Options{
			SweepEvery: cfg.RateLimit.SweepEvery,
			OnFailOpen: metrics.FailOpen.Inc,
			OnSweep:    func(removed int) { metrics.EvictedWindows.Add(float64(removed)) },
		},
	)
	obs.ActiveWindowsGauge(reg, decider.ActiveWindows)

	pairs := map[string]string{} // secret -> principal id
	for _, k := range cfg.Auth.Keys {
		if k.Secret != "" && k.ID != "" {
			pairs[k.Secret] = k.ID
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, pairs)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})

	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(table.PatternOf),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		authStore.Middleware(),
		gateway.Admission(decider, func(r *http.Request) {
			metrics.RateLimited.WithLabelValues(table.PatternOf(r.URL.Path)).Inc()
		}),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}
