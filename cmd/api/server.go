package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"soundmint.org/internal/auth"
	"soundmint.org/internal/config"
	"soundmint.org/internal/events"
	"soundmint.org/internal/httpapi"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/market"
	"soundmint.org/internal/migrate"
	"soundmint.org/internal/obs"
	"soundmint.org/internal/store/pg"
)

func run(parent context.Context, configFile, envDir string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(configFile, envDir)
	if err != nil {
		return err
	}
	log, err := obs.InitLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mcfg, err := market.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var (
		value ledger.Service
		store *pg.Store
		probe httpapi.ReadyProbe
	)
	if cfg.Database.Enabled() {
		store, err = pg.Open(cfg.Database.DSN(), pg.Pool{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = store.Close() }()
		if cfg.Database.AutoMigrate {
			applied, err := migrate.NewManager(store.DB()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				log.Info("migration applied", zap.String("name", name))
			}
		}
		value = store
		probe.DB = store.DB()
		log.Info("using postgres ledger", zap.String("host", cfg.Database.Host))
	} else {
		value = ledger.NewInMemory(nil)
		log.Warn("database not configured; ledger and engine state are in memory only")
	}

	bus := events.NewBus(256)
	publishers := events.Fanout{bus, obs.Domain{}}
	if cfg.NATS.URL != "" {
		np, err := events.DialNATS(events.NATSConfig{
			URL:            cfg.NATS.URL,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, log.Named("nats"))
		if err != nil {
			return err
		}
		defer np.Close()
		publishers = append(publishers, np)
	}

	opts := []market.Option{
		market.WithPublisher(publishers),
		market.WithObserver(obs.Domain{}),
		market.WithLogger(log),
	}
	var engine *market.Engine
	if store != nil && cfg.Snapshot.Enabled {
		var restored bool
		opts = append(opts, market.WithJournal(store))
		engine, restored, err = market.Load(ctx, store, mcfg, value, opts...)
		if restored {
			log.Info("engine state restored from snapshot", zap.Int("artists", engine.Factory.TotalArtists()))
		}
	} else {
		engine, err = market.New(mcfg, value, opts...)
	}
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var issuer *auth.Issuer
	if cfg.Auth.Secret != "" {
		issuer, err = auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		log.Warn("auth.secret not set; state-changing endpoints are disabled")
	}

	api := httpapi.New(engine, httpapi.Options{
		Version:      version,
		Issuer:       issuer,
		Bus:          bus,
		Ready:        probe,
		DevTokens:    cfg.Auth.DevTokens,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateBurst:    cfg.RateLimit.Burst,
		RatePerSec:   cfg.RateLimit.PerSecond,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	srv.RegisterOnShutdown(api.CloseStreams)

	health := httpapi.NewGRPCServer(probe, log.Named("grpc"))
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Watch(ctx, 5*time.Second)
	}()
	if store != nil && cfg.Snapshot.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.RunPruning(ctx, store, cfg.Snapshot.Interval, cfg.Snapshot.Keep)
		}()
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server failed", zap.Error(runErr))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	wg.Wait()
	log.Info("stopped")
	return runErr
}
