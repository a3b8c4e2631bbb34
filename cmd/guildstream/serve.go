package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/guildstream/guildstream/internal/bridge"
	"github.com/guildstream/guildstream/internal/config"
	"github.com/guildstream/guildstream/internal/engine"
	"github.com/guildstream/guildstream/internal/gateway"
	"github.com/guildstream/guildstream/internal/healthcheck"
	"github.com/guildstream/guildstream/internal/logger"
	"github.com/guildstream/guildstream/internal/mention"
	"github.com/guildstream/guildstream/internal/server"
	"github.com/guildstream/guildstream/internal/stream"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSession,
			provideSink,
			provideResolver,
			provideEngine,
			provideBridge,
			provideChecker,
			provideServer,
		),
		fx.Invoke(
			startBridge,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSession(cfg config.Config) (gateway.Session, error) {
	return gateway.NewDiscordSession(cfg.Discord.Token)
}

func provideSink(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) stream.Sink {
	if cfg.Sink.WebsocketURL == "" {
		log.Warn("no websocket sink configured, facts are logged only")
		return stream.NewFanout(log)
	}
	ws := stream.NewWSSink(cfg.Sink.WebsocketURL, log)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return ws.Close() }})
	return ws
}

func provideResolver(cfg config.Config, session gateway.Session, log *slog.Logger) *mention.Resolver {
	return mention.NewResolver(mention.NewCache(), bridge.NewDirectory(session), log, cfg.Engine.LookupTimeout())
}

func provideEngine(cfg config.Config, resolver *mention.Resolver, sink stream.Sink, session gateway.Session, log *slog.Logger) *engine.Engine {
	return engine.New(resolver, sink, session, engine.Options{
		Scrollback:   cfg.Engine.Scrollback,
		MaxKnown:     cfg.Engine.MaxKnown,
		FetchTimeout: cfg.Engine.FetchTimeout(),
		Logger:       log,
	})
}

func provideBridge(cfg config.Config, session gateway.Session, eng *engine.Engine, resolver *mention.Resolver, sink stream.Sink, log *slog.Logger) *bridge.Bridge {
	return bridge.New(session, eng, resolver, sink, bridge.Options{
		GuildID:        cfg.Discord.GuildID,
		CommandTimeout: cfg.Engine.CommandTimeout(),
		Conn: gateway.ConnOptions{
			BackoffBase: cfg.Discord.BackoffBase(),
			BackoffCap:  cfg.Discord.BackoffCap(),
			Logger:      log,
		},
		Logger: log,
	})
}

func provideChecker(b *bridge.Bridge) healthcheck.Checker {
	return healthcheck.NewConnChecker(b, 100)
}

func provideServer(cfg config.Config, log *slog.Logger, b *bridge.Bridge, checker healthcheck.Checker) *server.Server {
	return server.NewServer(cfg.Server.Addr, log, b, checker)
}

func startBridge(lc fx.Lifecycle, b *bridge.Bridge) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return b.Start() },
		OnStop:  func(ctx context.Context) error { return b.Stop() },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
