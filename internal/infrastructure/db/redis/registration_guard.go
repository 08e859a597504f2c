package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/userhub/account-api/internal/core/ports"
)

const (
	registrationKeyTTL = 24 * time.Hour
	// reservationTTL bounds how long an unfinished registration holds its key.
	reservationTTL = time.Minute
)

// RegistrationGuard maps registration idempotency keys to the payload
// fingerprint and user id of the request that first used them.
// Key format:   register:idem:<idempotency_key>
// Value format: <fingerprint>:<user_id>, with an empty user id while pending.
type RegistrationGuard struct {
	client     *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRegistrationGuard wraps client. A non-positive ttl uses registrationKeyTTL.
func NewRegistrationGuard(client *redis.Client, ttl time.Duration) *RegistrationGuard {
	if ttl <= 0 {
		ttl = registrationKeyTTL
	}
	return &RegistrationGuard{client: client, ttl: ttl, pendingTTL: reservationTTL}
}

// Reserve claims key with SETNX. If another request holds it, the stored
// registration is returned instead.
func (g *RegistrationGuard) Reserve(ctx context.Context, key, fingerprint string) (ports.Registration, bool, error) {
	k := g.key(key)

	// A held key can expire between SETNX and GET; one retry covers that.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.client.SetNX(ctx, k, encodeRegistration(fingerprint, ""), g.pendingTTL).Result()
		if err != nil {
			return ports.Registration{}, false, fmt.Errorf("registration key reserve: %w", err)
		}
		if ok {
			return ports.Registration{}, true, nil
		}

		val, err := g.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return ports.Registration{}, false, fmt.Errorf("registration key lookup: %w", err)
		}
		return decodeRegistration(val), false, nil
	}
	return ports.Registration{}, false, fmt.Errorf("registration key reserve: %q kept expiring", key)
}

// Complete stores the created user id under key for the full TTL.
func (g *RegistrationGuard) Complete(ctx context.Context, key, fingerprint, userID string) error {
	if err := g.client.Set(ctx, g.key(key), encodeRegistration(fingerprint, userID), g.ttl).Err(); err != nil {
		return fmt.Errorf("registration key store: %w", err)
	}
	return nil
}

// Release deletes key so the client can retry after a failed registration.
func (g *RegistrationGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("registration key release: %w", err)
	}
	return nil
}

func (g *RegistrationGuard) key(k string) string {
	return "register:idem:" + k
}

func encodeRegistration(fingerprint, userID string) string {
	return fingerprint + ":" + userID
}

func decodeRegistration(v string) ports.Registration {
	fingerprint, userID, _ := strings.Cut(v, ":")
	return ports.Registration{Fingerprint: fingerprint, UserID: userID}
}
