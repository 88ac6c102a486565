// Package readcache memoizes contract reads in redis so dashboard
// refreshes do not hammer the RPC endpoint. Cache keys carry a version
// counter; invalidation bumps the counter instead of deleting entries.
// With no redis address configured every read goes straight through.
package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"payflow/internal/application"
	"payflow/internal/domain"
)

const (
	flowVersionPrefix   = "payflow:flow:version:"
	flowKeyPrefix       = "payflow:flow:v"
	ownerVersionKey     = "payflow:owners:version"
	ownerKeyPrefix      = "payflow:owners:v"
	approvalKeyPrefix   = "payflow:approval:"
	defaultReadCacheTTL = time.Minute
)

type Config struct {
	Addr string
	TTL  time.Duration
}

type CachedReader struct {
	application.ChainReader
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedReader(base application.ChainReader, cfg Config) (*CachedReader, error) {
	if base == nil {
		return nil, errors.New("base reader is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedReader{ChainReader: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultReadCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedReader{ChainReader: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedReader) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

func (r *CachedReader) FlowData(ctx context.Context, flow string) (domain.Flow, error) {
	if r.cache == nil {
		return r.ChainReader.FlowData(ctx, flow)
	}
	flow = strings.ToLower(flow)
	version, ok := r.version(ctx, flowVersionPrefix+flow)
	if !ok {
		return r.ChainReader.FlowData(ctx, flow)
	}
	key := flowKeyPrefix + version + ":" + flow
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var data domain.Flow
		if err := json.Unmarshal([]byte(cached), &data); err == nil {
			return data, nil
		}
	}

	data, err := r.ChainReader.FlowData(ctx, flow)
	if err != nil {
		return domain.Flow{}, err
	}
	if payload, err := json.Marshal(data); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return data, nil
}

func (r *CachedReader) FlowsByOwner(ctx context.Context, owner string) ([]string, error) {
	if r.cache == nil {
		return r.ChainReader.FlowsByOwner(ctx, owner)
	}
	owner = strings.ToLower(owner)
	version, ok := r.version(ctx, ownerVersionKey)
	if !ok {
		return r.ChainReader.FlowsByOwner(ctx, owner)
	}
	key := ownerKeyPrefix + version + ":" + owner
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var flows []string
		if err := json.Unmarshal([]byte(cached), &flows); err == nil {
			return flows, nil
		}
	}

	flows, err := r.ChainReader.FlowsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(flows); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return flows, nil
}

func (r *CachedReader) ApprovalStatus(ctx context.Context, approvalID uint64) (domain.ApprovalStatus, error) {
	if r.cache == nil {
		return r.ChainReader.ApprovalStatus(ctx, approvalID)
	}
	key := approvalKeyPrefix + strconv.FormatUint(approvalID, 10)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var status domain.ApprovalStatus
		if err := json.Unmarshal([]byte(cached), &status); err == nil {
			return status, nil
		}
	}

	status, err := r.ChainReader.ApprovalStatus(ctx, approvalID)
	if err != nil {
		return domain.ApprovalStatus{}, err
	}
	// Approval counts only move forward, so a short TTL is the sole
	// staleness bound here.
	if payload, err := json.Marshal(status); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return status, nil
}

// InvalidateFlow drops cached state for one flow address.
func (r *CachedReader) InvalidateFlow(ctx context.Context, flow string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, flowVersionPrefix+strings.ToLower(flow)).Err()
}

// InvalidateOwners drops every cached owner-to-flows listing, used when
// a new flow is created.
func (r *CachedReader) InvalidateOwners(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, ownerVersionKey).Err()
}

// InvalidateApproval drops the cached status for one approval.
func (r *CachedReader) InvalidateApproval(ctx context.Context, approvalID uint64) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, approvalKeyPrefix+strconv.FormatUint(approvalID, 10)).Err()
}

func (r *CachedReader) version(ctx context.Context, versionKey string) (string, bool) {
	version, err := r.cache.Get(ctx, versionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}
