// Dev seeding tool: mints demo trader tokens and publishes reference price
// ticks so a locally running exchange has everything it needs to trade.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sabikalabs/sabika/libs/auth"
)

type seedPrice struct {
	Symbol string
	Price  string
}

var demoPrices = []seedPrice{
	{Symbol: "GOLD24K-SAR", Price: "352.40"},
	{Symbol: "GOLD21K-SAR", Price: "308.35"},
	{Symbol: "SILVER-SAR", Price: "4.18"},
}

var demoTraders = []struct {
	Name string
	Tier string
}{
	{Name: "demo", Tier: "basic"},
	{Name: "trader", Tier: "pro"},
}

func main() {
	env := getEnv("SABIKA_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: SABIKA_ENV must be 'dev' or 'test' (got %q)", env)
	}

	secret := getEnv("SABIKA_JWT_SECRET", "")
	if secret == "" {
		log.Fatal("SABIKA_JWT_SECRET is required")
	}
	brokers := strings.Split(getEnv("SABIKA_KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getEnv("SABIKA_KAFKA_PRICES_TOPIC", "prices.ticks")

	fmt.Println("Seeding exchange...")

	tokens, err := mintTokens(secret)
	if err != nil {
		log.Fatalf("mint tokens: %v", err)
	}
	fmt.Println("✓ Demo tokens minted")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := publishPrices(ctx, brokers, topic); err != nil {
		log.Fatalf("publish prices: %v", err)
	}
	fmt.Println("✓ Reference prices published")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Tokens (DEV ONLY):")
	for name, token := range tokens {
		fmt.Printf("  %s: %s\n", name, token)
	}
	fmt.Println("\nDeposit funds through POST /v1/deposits using a token above.")
}

func mintTokens(secret string) (map[string]string, error) {
	tokens := make(map[string]string, len(demoTraders))
	for _, trader := range demoTraders {
		claims := auth.Claims{
			FeeTier: trader.Tier,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.New().String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("sign token for %s: %w", trader.Name, err)
		}
		tokens[trader.Name] = signed
	}
	return tokens, nil
}

func publishPrices(ctx context.Context, brokers []string, topic string) error {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer producer.Close()

	for _, p := range demoPrices {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := json.Marshal(map[string]string{
			"symbol": p.Symbol,
			"price":  p.Price,
			"source": "seed",
			"ts":     time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		_, _, err = producer.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(p.Symbol),
			Value: sarama.ByteEncoder(payload),
		})
		if err != nil {
			return fmt.Errorf("publish %s: %w", p.Symbol, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
