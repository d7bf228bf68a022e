package cache

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/QRFox/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the redis compatible cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Close releases the connection pool.
func Close() error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Ping checks that the cache answers.
func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}

// NewFiberStorage returns a fiber.Storage on the same server as the cache,
// isolated in its own database.
func NewFiberStorage(database int) fiber.Storage {
	opts := GetClient().Options()
	host, rawPort, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host, rawPort = opts.Addr, "6379"
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: database,
		Reset:    false,
	})
}
