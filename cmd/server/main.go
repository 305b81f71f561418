package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"guardianlink/internal/auth"
	"guardianlink/internal/chat"
	"guardianlink/internal/email"
	"guardianlink/internal/identity"
	"guardianlink/internal/server"
	"guardianlink/internal/storage"
)

type redisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
}

type mailConfig struct {
	SendgridKey string `env:"SENDGRID_API_KEY"`
	FromName    string `env:"MAIL_FROM_NAME" envDefault:"GuardianLink"`
	FromAddr    string `env:"MAIL_FROM_ADDR" envDefault:"noreply@guardianlink.local"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		sugar.Fatalf("Cannot load .env file: %v", err)
	}

	var (
		srvCfg   server.EnvConfig
		dbCfg    storage.Config
		redisCfg redisConfig
		mailCfg  mailConfig
	)
	for _, cfg := range []interface{}{&srvCfg, &dbCfg, &redisCfg, &mailCfg} {
		if err := env.Parse(cfg); err != nil {
			sugar.Fatalf("Cannot parse env config: %v", err)
		}
	}

	store, err := storage.New(context.Background(), sugar, dbCfg, storage.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create Store instance: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		sugar.Fatalf("Cannot connect to redis: %v", err)
	}

	var mailer email.Sender
	if mailCfg.SendgridKey != "" {
		mailer = email.NewSendgridSender(mailCfg.SendgridKey, mailCfg.FromName, mailCfg.FromAddr)
	} else {
		sugar.Info("No sendgrid key, mail goes to the log")
		mailer = email.NewConsoleSender(sugar)
	}

	signer := auth.NewSigner(srvCfg.JWTSecret, srvCfg.TokenTTL)
	codes := identity.NewRedisCodes(rdb, 15*time.Minute)
	ident := identity.NewService(sugar, store, codes, mailer, signer)
	coordinator := chat.NewCoordinator(sugar, store, store)

	serverOpts := []server.Option{
		server.WithEnvConfig(srvCfg),
		server.ReadTimeout(5 * time.Second),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			store.Close()
			if err := rdb.Close(); err != nil {
				sugar.Errorf("Cannot close redis client: %v", err)
			}
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, store, ident, coordinator, signer, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
