// Command frontend runs FE and BR together: it accepts WebSocket
// connections, admits inbound frames into the Immortal Queue, polls
// the shared key/value store to deliver outbound responses, and
// drains IQ onto the shared work list. FE and BR share one process
// because IQ is process-local memory; BR cannot drain a queue it
// cannot address. RW, which only ever talks to K, is the part of the
// dispatch plane that scales as its own independent process pool
// (cmd/worker).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"

	_ "go.uber.org/automaxprocs"

	"relaywright.dev/app/config"
	"relaywright.dev/pkg/dispatch"
	"relaywright.dev/pkg/observability"
	"relaywright.dev/pkg/pubsub"
	"relaywright.dev/pkg/queue"
	"relaywright.dev/pkg/version"
)

func main() {
	cfg, err := config.New()
	if chk.T(err) {
		os.Exit(1)
	}
	log.I.F(
		"starting %s frontend %s (GOMAXPROCS=%d)",
		cfg.AppName, version.V, runtime.GOMAXPROCS(0),
	)

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.KStoreAddr,
		Password: cfg.KStorePassword,
		DB:       cfg.KStoreDB,
	})
	defer chk.E(client.Close())

	iq := queue.New(cfg.QueueConfig())
	router := pubsub.New(client, cfg.PubsubConfig())
	fe := dispatch.NewFrontend(iq, client, router, cfg.DispatchConfig())
	fe.IPWhitelist = cfg.IPWhitelist
	br := dispatch.NewBridge(iq, client, cfg.DispatchConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go observability.NewSampler(30 * time.Second).Run(ctx)
	go br.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", fe.HandleWebsocket)
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Listen, cfg.Port), Handler: mux}
	go func() {
		log.I.F("frontend listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.E.F("frontend server error: %v", err)
		}
	}()

	var healthSrv *http.Server
	if cfg.HealthPort > 0 {
		healthMux := http.NewServeMux()
		healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		healthSrv = &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Listen, cfg.HealthPort), Handler: healthMux}
		go func() {
			log.I.F("frontend health check server listening on %s", healthSrv.Addr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.E.F("frontend health server error: %v", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
	fmt.Printf("\r")
	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelShutdown()
	chk.E(srv.Shutdown(shutdownCtx))
	if healthSrv != nil {
		chk.E(healthSrv.Shutdown(shutdownCtx))
	}
}
