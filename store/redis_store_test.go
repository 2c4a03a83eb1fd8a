package store

import (
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func newMiniredisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	hostPort := strings.Split(mr.Addr(), ":")
	port, err := strconv.Atoi(hostPort[1])
	if err != nil {
		t.Fatalf("failed to parse miniredis port: %v", err)
	}

	config := DefaultStoreConfig()
	config.Type = StoreTypeRedis
	config.Redis.Host = hostPort[0]
	config.Redis.Port = port

	s, err := NewRedisStore(config)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore(t *testing.T) {
	s := newMiniredisStore(t)
	runResultStoreSuite(t, s)
}
