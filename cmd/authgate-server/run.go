package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/httpapi"
	promexport "github.com/MrEthical07/authgate/metrics/export/prometheus"
	"github.com/MrEthical07/authgate/userstore/memory"
	"github.com/MrEthical07/authgate/userstore/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func run(w io.Writer) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger(w, s.LogLevel, s.LogFormat)
	if err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, ephemeral, err := s.engineConfig()
	if err != nil {
		return err
	}
	if ephemeral {
		logger.Warn("SESSION_KEY not set; using a random key, sessions will not survive a restart")
	}

	// ---------- infrastructure ----------
	rdb, closeRedis, err := openRedis(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	users, closeUsers, err := openUsers(ctx, s, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	// ---------- engine ----------
	engine, err := authgate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithLogger(logger).
		WithUserProvider(users).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	// ---------- http ----------
	apiCfg := httpapi.DefaultConfig()
	apiCfg.TrustProxy = s.TrustProxy
	if s.MetricsEnabled {
		apiCfg.Metrics = promexport.NewPrometheusExporter(engine).Handler()
	}
	api := httpapi.New(engine, logger, apiCfg)

	srv := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := api.Limiter().Sweep(); n > 0 {
					logger.WithField("evicted", n).Debug("swept idle rate limiters")
				}
				if n := engine.SweepCaptchas(); n > 0 {
					logger.WithField("expired", n).Debug("swept expired captchas")
				}
			}
		}
	})

	err = g.Wait()
	logger.WithFields(logrus.Fields{
		"audit_dropped": engine.AuditDropped(),
		"mail_dropped":  engine.MailDropped(),
	}).Info("server stopped")
	return err
}

func openRedis(ctx context.Context, s *settings, logger logrus.FieldLogger) (*redis.Client, func(), error) {
	addr := s.RedisAddr
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("miniredis: %w", err)
		}
		addr = mr.Addr()
		logger.WithField("addr", addr).Warn("REDIS_ADDR not set; using embedded miniredis")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	cleanup := func() {
		_ = client.Close()
		if mr != nil {
			mr.Close()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, cleanup, nil
}

func openUsers(ctx context.Context, s *settings, logger logrus.FieldLogger) (authgate.UserProvider, func(), error) {
	if s.DatabaseURL == "" {
		if s.production() {
			return nil, nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
		}
		logger.Warn("DATABASE_URL not set; accounts are kept in memory")
		return memory.New(), func() {}, nil
	}

	db, err := postgres.Open(ctx, s.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := postgres.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	logger.Info("postgres user store ready")
	return store, func() { _ = db.Close() }, nil
}
