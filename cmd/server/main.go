package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"imagestudio/internal/app"
	"imagestudio/internal/config"
	"imagestudio/internal/server"
	"imagestudio/internal/util"
	"imagestudio/pkg/ai"
	"imagestudio/pkg/assets"
	"imagestudio/pkg/events"
	"imagestudio/pkg/outbox"
	"imagestudio/pkg/store"
	"imagestudio/pkg/token"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		util.Fatal("invalid session ttl", "err", err)
	}
	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("invalid jwt leeway", "err", err)
	}
	issuer, err := token.New(cfg.JWTSecret, token.Options{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      sessionTTL,
		Leeway:   leeway,
	})
	if err != nil {
		util.Fatal("failed to init token issuer", "err", err)
	}

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			util.Fatal("failed to init postgres store", "err", err)
		}
		dataStore = gormStore
	} else {
		slog.Warn("no databaseURL configured, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	uploader, staticDir, err := buildUploader(cfg)
	if err != nil {
		util.Fatal("failed to init asset uploader", "err", err)
	}

	cf, err := ai.NewCloudflareClient(ai.CloudflareConfig{
		AccountID: cfg.CloudflareAccountID,
		APIToken:  cfg.CloudflareAPIToken,
	})
	if err != nil {
		util.Fatal("failed to init cloudflare client", "err", err)
	}

	var nanoEdit app.ImageEditGenerator
	if cfg.OpenRouterAPIKey != "" {
		adapter, err := ai.NewOpenRouterAdapter(ai.OpenRouterConfig{
			APIKey:    cfg.OpenRouterAPIKey,
			SiteURL:   cfg.OpenRouterSiteURL,
			SiteTitle: cfg.OpenRouterSiteTitle,
		}, uploader)
		if err != nil {
			util.Fatal("failed to init openrouter adapter", "err", err)
		}
		nanoEdit = adapter
	} else {
		slog.Warn("no OpenRouter API key configured, nanoBanana endpoint disabled")
	}

	var recordOutbox outbox.Outbox
	if cfg.RedisAddr != "" {
		redisOutbox, err := outbox.NewRedisOutbox(outbox.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			util.Fatal("failed to init redis outbox", "err", err)
		}
		recordOutbox = redisOutbox
	} else {
		recordOutbox = outbox.NewMemoryOutbox(outbox.MemoryConfig{})
	}

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbitPublisher(events.RabbitConfig{URL: cfg.AMQPURL})
		if err != nil {
			util.Fatal("failed to init rabbitmq publisher", "err", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	appCore, err := app.New(app.Config{
		Store:    dataStore,
		Outbox:   recordOutbox,
		Events:   publisher,
		Flux:     ai.NewFluxAdapter(cf, uploader),
		Lucid:    ai.NewLucidOriginAdapter(cf, uploader),
		SDXL:     ai.NewSDXLAdapter(cf, uploader),
		Img2Img:  ai.NewImg2ImgAdapter(cf, uploader),
		Inpaint:  ai.NewInpaintAdapter(cf, uploader),
		NanoEdit: nanoEdit,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:                     appCore,
		Tokens:                  issuer,
		RedisAddr:               cfg.RedisAddr,
		RedisPassword:           cfg.RedisPassword,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		CORSOrigin:              cfg.CORSOrigin,
		TrustedProxies:          cfg.TrustedProxies,
		StaticImagesDir:         staticDir,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.OutboxConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	recordOutbox.Start(ctx, concurrency, appCore.PersistRecord)

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		util.Fatal("server error", "err", err)
	}
}

// buildUploader selects the asset backend. The second return value is the
// directory to serve at /images/* (local backend only).
func buildUploader(cfg config.FileConfig) (assets.Uploader, string, error) {
	switch cfg.Backend() {
	case "minio":
		uploader, err := assets.NewMinioUploader(assets.MinioConfig{
			Endpoint:      cfg.MinioEndpoint,
			AccessKey:     cfg.MinioAccessKey,
			SecretKey:     cfg.MinioSecretKey,
			Bucket:        cfg.MinioBucket,
			UseSSL:        cfg.MinioUseSSL,
			PublicBaseURL: cfg.PublicBaseURL,
		})
		return uploader, "", err
	case "local":
		baseURL := cfg.PublicBaseURL
		if baseURL == "" {
			baseURL = "http://localhost:" + cfg.Port
		}
		uploader, err := assets.NewLocalUploader(cfg.ImagesDir, baseURL+"/images")
		if err != nil {
			return nil, "", err
		}
		return uploader, uploader.Dir(), nil
	default:
		uploader, err := assets.NewImageKitUploader(assets.ImageKitConfig{
			PrivateKey: cfg.ImageKitPrivateKey,
		})
		return uploader, "", err
	}
}
