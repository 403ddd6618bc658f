package broker

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Broker wraps a redis client, namespacing every key it touches so a
// single Redis instance can host more than one deployment.
type Broker struct {
	client    *redis.Client
	namespace string
	log       *slog.Logger
}

// New builds a Broker over an already-configured redis client. namespace
// prefixes every key (e.g. "taskqueue"); pass "" to use the bare key
// names.
func New(client *redis.Client, namespace string, log *slog.Logger) *Broker {
	return &Broker{client: client, namespace: namespace, log: log}
}

// Client exposes the underlying redis client for callers that need raw
// access (health checks, metrics).
func (b *Broker) Client() *redis.Client {
	return b.client
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Ping verifies connectivity, surfaced by callers as a retryable
// BrokerUnavailable condition on failure.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) key(parts ...string) string {
	if b.namespace == "" {
		return joinParts(parts)
	}
	return b.namespace + ":" + joinParts(parts)
}

func joinParts(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ":" + p
	}
	return out
}
