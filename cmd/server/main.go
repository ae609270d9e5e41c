package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2e_trace/internal/config"
	"e2e_trace/internal/protocol/search"
	"e2e_trace/internal/repository/contact"
	"e2e_trace/internal/repository/user"
	"e2e_trace/internal/service/platform"
	redisSvc "e2e_trace/internal/service/redis"
	"e2e_trace/internal/service/server"
	"e2e_trace/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to YAML config file")
		addr       = pflag.String("addr", "", "HTTP listen address (overrides http_addr)")
		indexMode  = pflag.String("index-mode", "", "membership index: exact, bloom or memory (in process, sized by index.mode)")
		logLevel   = pflag.String("log-level", "", "log level (overrides log.level)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	inMemory := *indexMode == "memory"
	if *indexMode != "" && !inMemory {
		cfg.Index.Mode = *indexMode
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoDBClient, err := initMongo(ctx, cfg.Mongo.URI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	defer mongoDBClient.Disconnect(context.Background())

	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	cache := redisSvc.NewRedis(rdb)
	if err := cache.Ping(ctx); err != nil {
		log.Fatal("connect redis failed", zap.Error(err))
	}

	userRepo := user.NewUserRepo(db)
	contactRepo := contact.NewContactRepo(db)
	for _, ensure := range []func(context.Context) error{userRepo.EnsureIndexes, contactRepo.EnsureIndexes} {
		if err := ensure(ctx); err != nil {
			log.Fatal("create mongo indexes failed", zap.Error(err))
		}
	}

	tags, err := newTagIndex(ctx, cfg.Index, rdb, inMemory)
	if err != nil {
		log.Fatal("init tag index failed", zap.Error(err))
	}

	plt, err := platform.New(search.Config{
		Tags:      tags,
		Neighbors: contactRepo,
		Keys:      userRepo,
		Workers:   cfg.Search.Workers,
		MaxRounds: cfg.Search.MaxRounds,
	})
	if err != nil {
		log.Fatal("init platform failed", zap.Error(err))
	}

	s := server.NewHttpServer(cfg.HTTPAddr, userRepo, cache, plt)
	if err := s.Run(ctx); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func initMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
