package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/api"
	"kanban-api/realtime"
	"kanban-api/storage"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx := context.Background()
	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown")
		}
	}()

	store, err := storage.New(cfg.StorageConnectionString, storage.Tables{
		Boards: cfg.BoardsTable,
		Lists:  cfg.ListsTable,
		Cards:  cfg.CardsTable,
		Users:  cfg.UsersTable,
	}, cfg.EventRelayQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	rc := redis.NewClient(redisOptions(cfg.RedisConnectionString))
	cached := storage.NewCache(store, rc, cfg.ListCacheTTL)

	var auth *api.Auth
	if cfg.AuthTestSecret != "" {
		logger.Warn("token verification is using the shared test secret")
		auth = api.NewTestAuth([]byte(cfg.AuthTestSecret))
	} else {
		if cfg.Auth0Audience == "" || cfg.Auth0Domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/")
	}

	hub := realtime.NewHub()
	notifier := realtime.NewPublisher(rc, cfg.BoardEventsChannel, store, logger)
	go realtime.RunSubscriber(ctx, rc, cfg.BoardEventsChannel, hub, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, cached, auth, notifier, logger)
	e.GET("/api/boards/:boardId/stream", realtime.StreamHandler(hub, auth, api.NewGuard(cached), logger))

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

// redisOptions accepts either a redis URL or the comma separated
// host,password=...,ssl=... form some managed providers hand out.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
