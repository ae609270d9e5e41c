package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2e_trace/internal/config"
	"e2e_trace/internal/repository/user"
	"e2e_trace/internal/service/app"
	redisSvc "e2e_trace/internal/service/redis"
	"e2e_trace/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to YAML config file")
		server     = pflag.String("server", "", "server address (overrides http_addr)")
		to         = pflag.StringP("to", "t", "", "recipient name; prompted for when empty")
		logFile    = pflag.String("log-file", "", "write logs to this file instead of discarding them")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <username>\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() < 1 {
		pflag.Usage()
		os.Exit(2)
	}
	username := pflag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.HTTPAddr = *server
	}

	// the terminal belongs to the UI, so logs only go to a file
	if *logFile != "" {
		if err := initFileLog(cfg.Log.Level, *logFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer log.Sync()
	}

	mongoDBClient, err := initMongo(cfg.Mongo.URI)
	if err != nil {
		panic(err)
	}

	db := mongoDBClient.Database(cfg.Mongo.Database)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	redis := redisSvc.NewRedis(rdb)

	ctx := context.Background()

	userRepo := user.NewUserRepo(db)
	app := app.NewApp(cfg.HTTPAddr, userRepo, redis)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		app.Stop()
	}()

	app.Run(ctx, username, *to)
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
