package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	registrymetrics "grantflow/internal/registry/metrics"
	"grantflow/internal/registry/models"
	"grantflow/pkg/domain"
)

// Cached wraps a ProfileStore with a Redis read-through cache. Profiles are
// immutable apart from metadata and members, so cached reads serve the hot
// authorization path (IsOwnerOrMember on every pool call) while writes
// invalidate.
type Cached struct {
	inner interface {
		CreateWithNonce(ctx context.Context, profile *models.Profile) error
		FindByID(ctx context.Context, id domain.ProfileID) (*models.Profile, error)
		FindByAnchor(ctx context.Context, anchor domain.Address) (*models.Profile, error)
		ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error)
		Execute(ctx context.Context, id domain.ProfileID, validate func(*models.Profile) error, mutate func(*models.Profile) error) (*models.Profile, error)
	}
	redis   *redis.Client
	ttl     time.Duration
	metrics *registrymetrics.Metrics
}

func NewCached(inner *Postgres, client *redis.Client, ttl time.Duration, m *registrymetrics.Metrics) *Cached {
	return &Cached{inner: inner, redis: client, ttl: ttl, metrics: m}
}

func (c *Cached) CreateWithNonce(ctx context.Context, profile *models.Profile) error {
	if err := c.inner.CreateWithNonce(ctx, profile); err != nil {
		return err
	}
	c.fill(ctx, profile)
	return nil
}

func (c *Cached) FindByID(ctx context.Context, id domain.ProfileID) (*models.Profile, error) {
	if p := c.lookup(ctx, profileKey(id.String()), "id"); p != nil {
		return p, nil
	}
	p, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, p)
	return p, nil
}

func (c *Cached) FindByAnchor(ctx context.Context, anchor domain.Address) (*models.Profile, error) {
	if p := c.lookup(ctx, anchorKey(anchor.String()), "anchor"); p != nil {
		return p, nil
	}
	p, err := c.inner.FindByAnchor(ctx, anchor)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, p)
	return p, nil
}

func (c *Cached) ExpectedNonce(ctx context.Context, owner domain.Address) (uint64, error) {
	// Nonces are the replay guard; never served stale.
	return c.inner.ExpectedNonce(ctx, owner)
}

func (c *Cached) Execute(ctx context.Context, id domain.ProfileID,
	validate func(*models.Profile) error,
	mutate func(*models.Profile) error) (*models.Profile, error) {

	p, err := c.inner.Execute(ctx, id, validate, mutate)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, p)
	return p, nil
}

func (c *Cached) lookup(ctx context.Context, key, kind string) *models.Profile {
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// Cache trouble degrades to the durable store, never to an error.
			return nil
		}
		c.miss(kind)
		return nil
	}
	var p models.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	c.hit(kind)
	return &p
}

func (c *Cached) fill(ctx context.Context, p *models.Profile) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	pipe := c.redis.Pipeline()
	pipe.Set(ctx, profileKey(p.ID.String()), raw, c.ttl)
	pipe.Set(ctx, anchorKey(p.Anchor.String()), raw, c.ttl)
	_, _ = pipe.Exec(ctx)
}

func (c *Cached) hit(kind string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(kind).Inc()
	}
}

func (c *Cached) miss(kind string) {
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(kind).Inc()
	}
}

func profileKey(id string) string    { return "profile:id:" + id }
func anchorKey(anchor string) string { return "profile:anchor:" + anchor }
