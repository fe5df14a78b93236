package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hyphen-sync/internal/domain"
	"hyphen-sync/internal/metrics"
	"hyphen-sync/internal/repository"
	"hyphen-sync/internal/store"

	"go.uber.org/zap"
)

// FetchCacheStore 抓取缓存存取（postgres 主存 + redis 热层）
// postgres 是事实来源（append-only 日志）；redis 只缓存"有效"条目，
// 读写失败均不影响主路径（尽力而为，记日志继续）。
type FetchCacheStore struct {
	repo    repository.FetchCacheRepository
	kv      store.KV // 可为 nil（禁用热层）
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewFetchCacheStore 创建抓取缓存存取
func NewFetchCacheStore(repo repository.FetchCacheRepository, kv store.KV, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) *FetchCacheStore {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &FetchCacheStore{
		repo:    repo,
		kv:      kv,
		ttl:     ttl,
		metrics: collector,
		logger:  logger,
	}
}

func cacheHotKey(employeeID, requestHash string) string {
	return fmt.Sprintf("nhis:cache:%s:%s", employeeID, requestHash)
}

// GetValidCache 获取新鲜度窗口内的有效缓存条目
// 先查 redis 热层，未命中回落 postgres，命中后回填热层。
func (s *FetchCacheStore) GetValidCache(ctx context.Context, employeeID, requestHash string) (*domain.NhisFetchCache, error) {
	if s.kv != nil {
		if val, err := s.kv.Get(ctx, cacheHotKey(employeeID, requestHash)); err == nil {
			var entry domain.NhisFetchCache
			if err := json.Unmarshal([]byte(val), &entry); err == nil && entry.OK {
				s.metrics.CacheLookupsTotal.WithLabelValues("valid").Inc()
				return &entry, nil
			}
		} else if err != store.ErrMiss {
			s.logger.Warn("hot cache read failed", zap.Error(err))
		}
	}

	since := time.Now().Add(-s.ttl)
	entry, err := s.repo.GetValidCache(ctx, employeeID, requestHash, since)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		s.metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	s.metrics.CacheLookupsTotal.WithLabelValues("valid").Inc()
	s.backfillHot(ctx, entry)
	return entry, nil
}

// GetLatestByIdentity 忽略新鲜度的历史回退（只走 postgres）
func (s *FetchCacheStore) GetLatestByIdentity(ctx context.Context, q repository.LatestQuery) (*domain.NhisFetchCache, error) {
	entry, err := s.repo.GetLatestByIdentity(ctx, q)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.metrics.CacheLookupsTotal.WithLabelValues("history").Inc()
	}
	return entry, nil
}

// Save 追加缓存条目；成功条目写入热层
func (s *FetchCacheStore) Save(ctx context.Context, entry *domain.NhisFetchCache) error {
	if err := s.repo.Save(ctx, entry); err != nil {
		return err
	}
	if entry.OK {
		s.backfillHot(ctx, entry)
	}
	return nil
}

// MarkHit 命中计数 +1（尽力而为，错误由调用方决定吞掉与否）
func (s *FetchCacheStore) MarkHit(ctx context.Context, cacheID string) error {
	return s.repo.MarkHit(ctx, cacheID)
}

// backfillHot 回填热层：剩余 TTL 按条目创建时间折算
func (s *FetchCacheStore) backfillHot(ctx context.Context, entry *domain.NhisFetchCache) {
	if s.kv == nil {
		return
	}
	remaining := s.ttl
	if entry.CreatedAt > 0 {
		age := time.Since(time.Unix(entry.CreatedAt, 0))
		remaining = s.ttl - age
		if remaining <= 0 {
			return
		}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, cacheHotKey(entry.EmployeeID, entry.RequestHash), string(data), remaining); err != nil {
		s.logger.Warn("hot cache write failed", zap.Error(err))
	}
}
