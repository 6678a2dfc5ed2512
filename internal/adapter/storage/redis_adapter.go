package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yassinshaher1/CCB/internal/core/domain"
)

const (
	claimKeyPrefix   = "settlement:claim:"
	productKeyPrefix = "product:"
	defaultClaimTTL  = time.Minute
)

// releaseClaimScript deletes the claim only while this owner still holds it,
// so an expired claim taken over by another process is left alone.
var releaseClaimScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
	owner  string
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		owner:  uuid.NewString(),
	}
}

func (r *RedisAdapter) Claim(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = defaultClaimTTL
	}

	ok, err := r.client.SetNX(ctx, claimKeyPrefix+orderID, r.owner, ttl).Result()
	if err != nil {
		return false, storeErr("claim order", err)
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, orderID string) error {
	if err := releaseClaimScript.Run(ctx, r.client, []string{claimKeyPrefix + orderID}, r.owner).Err(); err != nil {
		return storeErr("release claim", err)
	}
	return nil
}

func (r *RedisAdapter) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	raw, err := r.client.Get(ctx, productKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, storeErr("get product", err)
	}

	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// PutProduct seeds the catalog key space; the catalog service owns these keys in production.
func (r *RedisAdapter) PutProduct(ctx context.Context, p domain.Product) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %s: %w", p.ID, err)
	}
	if err := r.client.Set(ctx, productKeyPrefix+p.ID, raw, 0).Err(); err != nil {
		return storeErr("put product", err)
	}
	return nil
}
