package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"incubator-link/internal/bus/embeddednats"
	"incubator-link/internal/config"
	"incubator-link/internal/events"
	"incubator-link/internal/version"
)

const eventSource = "linkd"

func runDaemon(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	startedAt := time.Now()

	schema, err := events.LoadSchema()
	if err != nil {
		return err
	}
	pub := events.NewPublisher(schema, eventSource, log)

	e, err := newEngine(cfg, log, pub)
	if err != nil {
		return err
	}

	// Embedded NATS starts before any client connection.
	var emb *embeddednats.Server
	if cfg.NATS.Embedded.Enabled {
		emb, err = embeddednats.Start(embeddednats.Config{
			Host:     cfg.NATS.Embedded.Host,
			Port:     cfg.NATS.Embedded.Port,
			StoreDir: cfg.NATS.Embedded.StoreDir,
		})
		if err != nil {
			log.Warn("embedded nats start failed", zap.Error(err))
		} else {
			defer emb.Shutdown()
			log.Info("embedded nats started", zap.String("url", emb.ClientURL()))
			if !cfg.NATS.Enabled {
				cfg.NATS.Enabled = true
				cfg.NATS.URL = emb.ClientURL()
			}
		}
	}

	nl := &natsLink{cfg: cfg.NATS, log: log.Named("nats"), schema: schema, pub: pub, engine: e, embedded: emb != nil}

	ln, actualAddr, err := listenWithFallback(cfg.HTTPAddr)
	if err != nil {
		return err
	}
	if actualAddr != cfg.HTTPAddr {
		log.Warn("http addr was busy; switched", zap.String("from", cfg.HTTPAddr), zap.String("to", actualAddr))
	}
	srv := &http.Server{
		Handler:           newRouter(e, nl, startedAt, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	g.Go(func() error {
		pub.Run(gctx)
		return nil
	})
	if cfg.NATS.Enabled {
		g.Go(func() error {
			nl.run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", ln.Addr().String()), zap.String("version", version.String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	log.Info("shutdown complete", zap.Duration("uptime", time.Since(startedAt)))
	return err
}
