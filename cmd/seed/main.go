package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"paywall-access/internal/config"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/infra/api"
	pg "paywall-access/internal/infra/db/postgres"
	red "paywall-access/internal/infra/redis"
)

// Seeds a dev catalog and prints a bearer token for manual end-to-end runs.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	reset := flag.Bool("reset", false, "truncate paywall tables and flush redis before seeding")
	principal := flag.String("principal", "dev-user", "principal id for the printed token")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if *reset {
		log.Println("[reset] truncating purchases, subscriptions, resources")
		if _, err := pool.Exec(ctx, `TRUNCATE purchases, subscriptions, resources RESTART IDENTITY CASCADE;`); err != nil {
			log.Fatalf("truncate: %v", err)
		}
		if cfg.Redis.URL != "" {
			redisClient, err := red.NewClient(ctx, &cfg.Redis)
			if err != nil {
				log.Fatalf("redis: %v", err)
			}
			if err := redisClient.FlushDB(ctx); err != nil {
				log.Fatalf("flush redis: %v", err)
			}
			_ = redisClient.Close()
			log.Println("[reset] redis flushed")
		}
	}

	// ---- Catalog ----
	repo := pg.NewResourceRepo(pool)
	seed := []model.Resource{
		{ID: "res_free_sample", StorageKey: "samples/intro.pdf", Class: "sample", Price: 0, Currency: cfg.Payment.Currency, Active: true},
		{ID: "res_report_q1", StorageKey: "reports/q1.pdf", Class: "report", Price: 49_900, Currency: cfg.Payment.Currency, Active: true},
		{ID: "res_course_go", StorageKey: "courses/go/lesson-01.mp4", Class: "course", Price: 199_900, Currency: cfg.Payment.Currency, Active: true},
		{ID: "res_retired", StorageKey: "reports/2019.pdf", Class: "report", Price: 9_900, Currency: cfg.Payment.Currency, Active: false},
	}
	for i := range seed {
		r := seed[i]
		if err := repo.Upsert(ctx, nil, &r); err != nil {
			log.Fatalf("seed resource %q: %v", r.ID, err)
		}
		fmt.Printf("seeded: %s (class=%s, price=%d %s, active=%t)\n", r.ID, r.Class, r.Price, r.Currency, r.Active)
	}

	// ---- Token ----
	token, err := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(*principal, *tokenTTL)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("\nprincipal: %s\nAuthorization: Bearer %s\n", *principal, token)
}
