// internal/redis/client.go
package redis

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoClient is returned when an operation names a client that was
// never registered
var ErrNoClient = errors.New("redis client not registered")

// DeleteOn removes keys from a named client
func DeleteOn(clientName string, keys ...string) error {
	client := GetClient(clientName)
	if client == nil {
		return ErrNoClient
	}
	return client.Del(ctx, keys...).Err()
}

// ExpireOn sets a key's expiration time in seconds on a named client
func ExpireOn(clientName, key string, seconds int) error {
	client := GetClient(clientName)
	if client == nil {
		return ErrNoClient
	}
	return client.Expire(ctx, key, time.Duration(seconds)*time.Second).Err()
}

// PingClient checks the connection of a named client
func PingClient(clientName string) error {
	client := GetClient(clientName)
	if client == nil {
		return ErrNoClient
	}
	return client.Ping(ctx).Err()
}

// ScanFrom iterates over keys matching a pattern on a named client
func ScanFrom(clientName, pattern string) ([]string, error) {
	client := GetClient(clientName)
	if client == nil {
		return nil, ErrNoClient
	}

	var keys []string
	var cursor uint64
	for {
		var scanKeys []string
		var err error
		scanKeys, cursor, err = client.Scan(ctx, cursor, pattern, 10).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, scanKeys...)

		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// SetJSONOn stores a value as JSON on a named client
func SetJSONOn(clientName, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	client := GetClient(clientName)
	if client == nil {
		return ErrNoClient
	}
	return client.Set(ctx, key, data, 0).Err()
}

// GetJSONFrom retrieves a JSON value from a named client and
// unmarshals it
func GetJSONFrom(clientName, key string, dest interface{}) error {
	client := GetClient(clientName)
	if client == nil {
		return ErrNoClient
	}
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
