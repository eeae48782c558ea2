package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studentsupport/backend/internal/api/handler"
	"studentsupport/backend/internal/audit"
	"studentsupport/backend/internal/chat"
	"studentsupport/backend/internal/chathub"
	"studentsupport/backend/internal/complaint"
	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/identity"
	"studentsupport/backend/internal/llm"
	"studentsupport/backend/internal/metrics"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/objectstore"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"
	"studentsupport/backend/internal/suggestion"
	"studentsupport/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func openStorage(cfg *config.Config) (storage.Storage, error) {
	db, err := storage.Open(cfg.Storage.Driver, cfg.DatabaseURL, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established, migrations complete", "driver", cfg.Storage.Driver)
	return storage.NewStorageService(db), nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	slog.Info("redis connection established", "addr", opts.Addr)
	return rdb, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.Info("starting student support backend", "port", cfg.Port, "storage", cfg.Storage.Driver, "ai", cfg.AI.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}

	hub := chathub.NewManagerService()
	var publisher chathub.Publisher = hub
	var cache settings.Cache
	if rdb != nil {
		defer rdb.Close()
		publisher = chathub.NewRedisPublisher(rdb)
		cache = settings.NewRedisCache(rdb)
	}

	gen, closeLLM, err := llm.New(ctx, cfg.AI)
	if err != nil {
		slog.Error("failed to initialise ai provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeLLM(); err != nil {
			slog.Warn("closing ai client failed", "error", err)
		}
	}()

	uploader, err := objectstore.New(ctx, cfg.S3)
	if err != nil {
		slog.Error("failed to initialise object storage", "error", err)
		os.Exit(1)
	}

	var bot *telegram.BotService
	var alerts chat.StaffAlerter
	if cfg.Telegram.BotToken != "" {
		bot, err = telegram.NewBotService(cfg.Telegram.BotToken, cfg.Telegram.StaffChatID)
		if err != nil {
			slog.Error("failed to start telegram bot", "error", err)
			os.Exit(1)
		}
		alerts = bot.Notifier()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	settingsSvc := settings.NewService(store, cache, cfg.Settings.CacheTTL)
	dispatcher := notification.NewDispatcher(store, publisher, m)
	suggestions := suggestion.NewService(store, settingsSvc, gen, dispatcher, nil, m)
	chatSvc := chat.NewService(store, chat.Options{
		Settings:  settingsSvc,
		Generator: gen,
		Notifier:  dispatcher,
		Publisher: publisher,
		Alerts:    alerts,
		Metrics:   m,
		AITimeout: cfg.AI.Timeout,
	})

	h := handler.NewHandler(handler.Deps{
		Auth:          identity.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Resolver:      identity.NewResolver(store),
		Users:         identity.NewUsers(store),
		Settings:      settingsSvc,
		Complaints:    complaint.NewService(store, settingsSvc, uploader, dispatcher, nil, cfg.Upload.Timeout),
		Suggestions:   suggestions,
		Chat:          chatSvc,
		Notifications: dispatcher,
		Audit:         audit.NewService(store),
		Hub:           hub,
		Metrics:       m,
		ChatPerMinute: cfg.RateLimit.ChatPerMinute,
	})

	if cfg.SlogLevel() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if gin.Mode() == gin.DebugMode {
		r.Use(gin.Logger())
	} else {
		r.Use(handler.AccessLog())
	}
	h.Register(r)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if rdb != nil {
		hub.StartPubSubListener(gctx, rdb)
	}
	if bot != nil {
		g.Go(func() error {
			bot.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
	}
	suggestions.Wait()
	slog.Info("server stopped")
}
