// Package testutil holds helpers for tests that need external services.
// Tests calling these helpers skip instead of failing when the service
// is not reachable, so the suite stays runnable on a bare machine.
package testutil

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

const dialTimeout = 2 * time.Second

// RedisAddr returns the Redis address under test, honoring REDIS_ADDR.
func RedisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// KafkaAddr returns the Kafka broker address under test, honoring KAFKA_BROKER.
func KafkaAddr() string {
	if addr := os.Getenv("KAFKA_BROKER"); addr != "" {
		return addr
	}
	return "localhost:9092"
}

// SkipIfRedisUnavailable skips the test unless Redis answers a ping at addr.
func SkipIfRedisUnavailable(t *testing.T, addr string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
}

// SkipIfKafkaUnavailable skips the test unless a broker accepts a TCP
// connection at addr.
func SkipIfKafkaUnavailable(t *testing.T, addr string) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		t.Skipf("kafka not available at %s: %v", addr, err)
		return
	}
	_ = conn.Close()
}
