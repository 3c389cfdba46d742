package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/auth"
	"github.com/amerfu/bllm/internal/config"
	"github.com/amerfu/bllm/internal/ledger"
)

// Seeds a running Redis with demo balances and prints a gateway token, so a
// fresh deployment has something to charge against:
//
//	go run ./scripts
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL:", err)
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis unreachable:", err)
	}

	store := ledger.New(client, zap.NewNop())

	seeds := map[string]string{
		"demo-alice": "100.00",
		"demo-bob":   "25.00",
		"demo-carol": "0.50",
	}
	for user, amount := range seeds {
		balance, err := store.Credit(ctx, user, decimal.RequireFromString(amount))
		if err != nil {
			log.Fatalf("Failed to credit %s: %v", user, err)
		}
		fmt.Printf("Credited %s, balance now $%s\n", user, balance.StringFixed(5))
	}

	verifier := auth.New(cfg.Auth)
	token, err := verifier.IssueToken("demo-gateway")
	if err != nil {
		log.Fatal("Failed to issue token:", err)
	}

	fmt.Println("\nSeed data created successfully!")
	fmt.Println("Gateway token for demo requests:")
	fmt.Println(token)
}
