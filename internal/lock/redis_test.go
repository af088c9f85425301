//go:build integration

package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "6379")
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})

	return client, func() {
		client.Close()
		container.Terminate(ctx)
	}
}

func TestRedisLocker(t *testing.T) {
	client, cleanup := setupRedis(t)
	if client == nil {
		return
	}
	defer cleanup()

	// Two lockers model two processes.
	a := NewRedisLocker(client, "test:lock:", time.Minute, zerolog.Nop())
	b := NewRedisLocker(client, "test:lock:", time.Minute, zerolog.Nop())

	var (
		wg     sync.WaitGroup
		active atomic.Int32
		overl  atomic.Bool
	)
	for i := range 10 {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func(l *RedisLocker) {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "photo")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			if active.Add(1) > 1 {
				overl.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			unlock()
		}(l)
	}
	wg.Wait()

	if overl.Load() {
		t.Error("two holders overlapped")
	}
	if n, _ := client.Exists(context.Background(), "test:lock:photo").Result(); n != 0 {
		t.Error("lock key not released")
	}
}

func TestRedisLocker_RenewsLease(t *testing.T) {
	client, cleanup := setupRedis(t)
	if client == nil {
		return
	}
	defer cleanup()
	ctx := context.Background()

	const ttl = 300 * time.Millisecond
	a := NewRedisLocker(client, "test:lock:", ttl, zerolog.Nop())
	b := NewRedisLocker(client, "test:lock:", ttl, zerolog.Nop())

	unlock, err := a.Lock(ctx, "slow")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// Hold for several leases.
	time.Sleep(4 * ttl)

	if n, _ := client.Exists(ctx, "test:lock:slow").Result(); n != 1 {
		t.Fatal("lease expired while held")
	}
	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	if _, err := b.Lock(waitCtx, "slow"); err == nil {
		t.Fatal("second holder acquired a renewed lock")
	}

	unlock()
	unlock()
	if n, _ := client.Exists(ctx, "test:lock:slow").Result(); n != 0 {
		t.Error("lock key not released")
	}

	// No renewal after release: a new holder keeps its own lease.
	unlockB, err := b.Lock(ctx, "slow")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	defer unlockB()
}
