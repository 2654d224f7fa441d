package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"revista-press/internal/config"
	"revista-press/internal/mailer"
	"revista-press/internal/notifier"
	"revista-press/internal/store"
	"revista-press/internal/telemetry"
)

func main() {
	once := flag.Bool("once", false, "run a single dispatch batch and exit (cron mode)")
	flag.Parse()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	mail, err := mailer.New(cfg)
	if err != nil {
		log.Fatalf("init mailer: %v", err)
	}

	d := notifier.New(st, mail, cfg.NotifyBatchSize, cfg.NotifyInterval, cfg.StaleAfter)

	if *once {
		summary, err := d.RunOnce(ctx)
		if err != nil {
			log.Fatalf("dispatch: %v", err)
		}
		log.Printf("notifier: attempted=%d notified=%d stale=%d", summary.Attempted, summary.Notified, summary.Stale)
		return
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("notifier started interval=%s batch=%d", cfg.NotifyInterval, cfg.NotifyBatchSize)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("notifier stopped: %v", err)
	}
}
