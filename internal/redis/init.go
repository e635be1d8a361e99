// internal/redis/init.go
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// Context for Redis operations (package private)
	ctx = context.Background()

	// Named clients, one per cache concern
	clients      = make(map[string]*redis.Client)
	clientsMutex sync.RWMutex
)

// NewClient registers a Redis client under the given name. With
// useExisting an earlier registration of the same name is reused
// instead of dialing again.
func NewClient(name, address string, useExisting bool) *redis.Client {
	if address == "" {
		address = "localhost:6379"
	}

	if useExisting {
		clientsMutex.RLock()
		if client, exists := clients[name]; exists {
			clientsMutex.RUnlock()
			return client
		}
		clientsMutex.RUnlock()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            address,
		Password:        "",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    3,
		ConnMaxIdleTime: 240 * time.Second,
		DialTimeout:     2 * time.Second,
	})

	clientsMutex.Lock()
	clients[name] = client
	clientsMutex.Unlock()

	return client
}

// GetClient returns a registered client, or nil when the name is
// unknown
func GetClient(name string) *redis.Client {
	clientsMutex.RLock()
	defer clientsMutex.RUnlock()
	return clients[name]
}

// Close closes and removes a named client. Closing a name that was
// never registered is a no-op.
func Close(name string) {
	clientsMutex.Lock()
	defer clientsMutex.Unlock()

	if client, exists := clients[name]; exists {
		client.Close()
		delete(clients, name)
	}
}
