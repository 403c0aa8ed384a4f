// Command worker runs RW: it blocking-pops batches from the shared
// work list, parses and validates Nostr frames, stores and matches
// events against live subscriptions, and writes replies back to each
// connection's response list in K. Any number of worker processes run
// against the same K instance.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/pkg/profile"
	"github.com/redis/go-redis/v9"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	_ "go.uber.org/automaxprocs"

	"relaywright.dev/app/config"
	"relaywright.dev/pkg/dispatch"
	"relaywright.dev/pkg/observability"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/storage"
	"relaywright.dev/pkg/verify"
	"relaywright.dev/pkg/version"
)

func main() {
	cfg, err := config.New()
	if chk.T(err) {
		os.Exit(1)
	}
	log.I.F(
		"starting %s worker %s (GOMAXPROCS=%d)",
		cfg.AppName, version.V, runtime.GOMAXPROCS(0),
	)

	switch cfg.Pprof {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profilePathOpts(cfg.PprofPath)...).Stop()
	case "memory":
		defer profile.Start(profile.MemProfile, profilePathOpts(cfg.PprofPath)...).Stop()
	case "allocation":
		defer profile.Start(profile.MemProfileAllocs, profilePathOpts(cfg.PprofPath)...).Stop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.KStoreAddr,
		Password: cfg.KStorePassword,
		DB:       cfg.KStoreDB,
	})
	defer chk.E(client.Close())

	engine, err := storage.OpenBadgerStore(cfg.DataDir)
	if chk.E(err) {
		os.Exit(1)
	}
	defer chk.E(engine.Close())

	router := pubsub.New(client, cfg.PubsubConfig())
	w := dispatch.NewWorker(client, router, engine, verify.IDOnly{}, cfg.DispatchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go observability.NewSampler(30 * time.Second).Run(ctx)
	go w.Run(ctx)

	var healthSrv *http.Server
	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		healthSrv = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Listen, cfg.HealthPort), Handler: mux}
		go func() {
			log.I.F("worker health check server listening on %s", healthSrv.Addr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.E.F("worker health server error: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
	fmt.Printf("\r")
	cancel()
	if healthSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelShutdown()
		chk.E(healthSrv.Shutdown(shutdownCtx))
	}
}

func profilePathOpts(path string) []func(*profile.Profile) {
	if path == "" {
		return nil
	}
	return []func(*profile.Profile){profile.ProfilePath(path)}
}
