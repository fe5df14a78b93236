package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hyphen-sync/internal/domain"
	"hyphen-sync/internal/metrics"
	"hyphen-sync/internal/payload"
	"hyphen-sync/internal/repository"

	"go.uber.org/zap"
)

// ==================== 常量 ====================

// DefaultNhisFetchTargets 默认抓取 target 全集
var DefaultNhisFetchTargets = []string{
	"medication",
	"medical",
	"checkupOverview",
	"checkupList",
	"checkupYearly",
	"healthAge",
}

const (
	// DefaultDetailYearLimit 明细抓取默认年限
	DefaultDetailYearLimit = 3

	// ProviderHyphenNhis 数据提供方标识
	ProviderHyphenNhis = "hyphen-nhis"

	subjectTypeSelf = "self"
)

// 提供方返回的会话过期错误代码
const (
	errCdLoginExpired   = "LOGIN-999"
	errCdSessionInvalid = "C0012-001"
)

// ==================== 错误 ====================

// 同步错误代码
const (
	CodeInitRequired = "NHIS_INIT_REQUIRED"  // 链接未建立
	CodeSignRequired = "NHIS_SIGN_REQUIRED"  // 链接存在但无可用会话
	CodeAuthExpired  = "NHIS_AUTH_EXPIRED"   // 提供方报会话过期
	CodeFetchFailed  = "HYPHEN_FETCH_FAILED" // 抓取因其他原因失败
)

// ErrEmployeeNotFound 员工不存在
var ErrEmployeeNotFound = errors.New("employee not found")

// SyncError 类型化同步错误
// NextAction 驱动调用方的用户引导：init / sign 提示重新认证，
// retry 提示稍后重试。
type SyncError struct {
	Code       string // 错误代码
	Reason     string // 人类可读原因
	Status     int    // HTTP 等价状态码
	NextAction string // init | sign | retry
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func newInitRequired() *SyncError {
	return &SyncError{
		Code:       CodeInitRequired,
		Reason:     "NHIS link has not been established",
		Status:     409,
		NextAction: "init",
	}
}

func newSignRequired() *SyncError {
	return &SyncError{
		Code:       CodeSignRequired,
		Reason:     "NHIS link has no usable session data",
		Status:     409,
		NextAction: "sign",
	}
}

func newAuthExpired(errCd, errMsg string) *SyncError {
	return &SyncError{
		Code:       CodeAuthExpired,
		Reason:     fmt.Sprintf("provider reported auth expiry (%s): %s", errCd, errMsg),
		Status:     409,
		NextAction: "init",
	}
}

func newFetchFailed(reason string) *SyncError {
	return &SyncError{
		Code:       CodeFetchFailed,
		Reason:     reason,
		Status:     502,
		NextAction: "retry",
	}
}

// ==================== DTO ====================

// SyncRequest 同步请求
type SyncRequest struct {
	EmployeeID   string
	ForceRefresh bool
}

// SyncResult 同步结果
type SyncResult struct {
	Source   string                     // cache-valid | cache-history | fresh
	Payload  *payload.Payload           // 最终（补齐后）载荷
	Snapshot *domain.HealthDataSnapshot // 本次写入的快照
}

// ==================== 服务接口 ====================

// HealthSyncService 健康数据同步服务接口
type HealthSyncService interface {
	// SyncEmployee 为单个员工执行一次 NHIS 健康数据同步
	SyncEmployee(ctx context.Context, req SyncRequest) (*SyncResult, error)
}

// healthSyncService 同步编排实现
// 状态机：CheckLink → CheckValidCache → CheckHistoryCache → Fetch →
// Patch → Persist。单次调用内各步严格顺序执行；跨调用的排他性由
// 去重协调器保证。
type healthSyncService struct {
	employees repository.EmployeesRepository
	links     repository.NhisLinksRepository
	snapshots repository.SnapshotsRepository
	cache     *FetchCacheStore
	patcher   *PayloadPatcher
	executor  NhisFetchExecutor
	dedup     DedupCoordinator
	metrics   *metrics.Collector
	logger    *zap.Logger

	yearLimit int
}

// NewHealthSyncService 创建同步服务
func NewHealthSyncService(
	employees repository.EmployeesRepository,
	links repository.NhisLinksRepository,
	snapshots repository.SnapshotsRepository,
	cache *FetchCacheStore,
	patcher *PayloadPatcher,
	executor NhisFetchExecutor,
	dedup DedupCoordinator,
	collector *metrics.Collector,
	logger *zap.Logger,
	yearLimit int,
) HealthSyncService {
	if yearLimit <= 0 {
		yearLimit = DefaultDetailYearLimit
	}
	return &healthSyncService{
		employees: employees,
		links:     links,
		snapshots: snapshots,
		cache:     cache,
		patcher:   patcher,
		executor:  executor,
		dedup:     dedup,
		metrics:   collector,
		logger:    logger,
		yearLimit: yearLimit,
	}
}

// SyncEmployee 执行同步
func (s *healthSyncService) SyncEmployee(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	employee, err := s.employees.GetEmployee(ctx, req.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employee: %w", err)
	}
	if employee == nil {
		return nil, ErrEmployeeNotFound
	}

	// CheckLink：链接未建立直接终止
	link, err := s.links.GetLink(ctx, req.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nhis link: %w", err)
	}
	if link == nil || !link.Linked {
		return nil, newInitRequired()
	}

	identity := ResolveIdentity(
		employee.EmployeeID,
		link.LoginOrgCd,
		employee.Name,
		employee.BirthDate,
		employee.Phone,
		employee.IdentityHash,
	)
	if identity.Drifted {
		// 凭据变更：以新算哈希为准并回写
		s.logger.Info("identity hash drift detected, reconciling",
			zap.String("employee_id", employee.EmployeeID),
		)
		if err := s.employees.UpdateIdentityHash(ctx, employee.EmployeeID, identity.IdentityHash); err != nil {
			return nil, fmt.Errorf("failed to reconcile identity hash: %w", err)
		}
	}

	key := BuildRequestHash(RequestDescriptor{
		IdentityHash: identity.IdentityHash,
		Targets:      DefaultNhisFetchTargets,
		YearLimit:    s.yearLimit,
		SubjectType:  subjectTypeSelf,
	})

	// force 标志参与 key 构造：强刷与普通调用从不互相去重
	dedupKey := req.EmployeeID + "|" + key.RequestHash + "|" + strconv.FormatBool(req.ForceRefresh)

	v, shared, err := s.dedup.Run(ctx, dedupKey, func() (any, error) {
		return s.syncOnce(ctx, req, identity, link, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.metrics.DedupSharedTotal.Inc()
	}
	return v.(*SyncResult), nil
}

// syncOnce 去重体：同一 key 至多一个在途执行
func (s *healthSyncService) syncOnce(ctx context.Context, req SyncRequest, identity Identity, link *domain.NhisLink, key RequestKey) (*SyncResult, error) {
	if !req.ForceRefresh {
		// CheckValidCache
		entry, err := s.cache.GetValidCache(ctx, identity.EmployeeID, key.RequestHash)
		if err != nil {
			return nil, fmt.Errorf("failed to read fetch cache: %w", err)
		}
		if entry != nil && entry.OK {
			s.markHit(ctx, entry.CacheID)
			return s.serveCached(ctx, identity, link, entry, domain.SourceCacheValid)
		}

		// CheckHistoryCache：过期但可用的历史条目作降级回退
		entry, err = s.cache.GetLatestByIdentity(ctx, repository.LatestQuery{
			EmployeeID:   identity.EmployeeID,
			IdentityHash: identity.IdentityHash,
			Targets:      strings.Join(key.NormalizedTargets, ","),
			YearLimit:    s.yearLimit,
			SubjectType:  subjectTypeSelf,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read fetch cache history: %w", err)
		}
		if entry != nil && entry.OK {
			s.markHit(ctx, entry.CacheID)
			return s.serveCached(ctx, identity, link, entry, domain.SourceCacheHistory)
		}
	}

	// Fetch：真实抓取前必须有可用会话
	if link.CookieData == "" {
		return nil, newSignRequired()
	}
	return s.fetchFresh(ctx, identity, link, key)
}

// serveCached 缓存命中路径：补抓 → 快照 → 持久化
func (s *healthSyncService) serveCached(ctx context.Context, identity Identity, link *domain.NhisLink, entry *domain.NhisFetchCache, source string) (*SyncResult, error) {
	p, err := payload.Decode(entry.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached payload: %w", err)
	}

	patched, err := s.patcher.Patch(ctx, PatchInput{
		Identity:    identity,
		Link:        link,
		YearLimit:   s.yearLimit,
		SubjectType: subjectTypeSelf,
		Payload:     p,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to patch payload: %w", err)
	}

	// 补抓走了网络就按 fresh 记账
	if patched.UsedNetwork {
		source = domain.SourceFresh
	}
	return s.finishSuccess(ctx, identity, p, source, patched.UsedNetwork)
}

// fetchFresh 真实抓取路径
// 无论成败都追加缓存条目；会话过期转为类型化错误，其余失败按
// 网关错误处理。
func (s *healthSyncService) fetchFresh(ctx context.Context, identity Identity, link *domain.NhisLink, key RequestKey) (*SyncResult, error) {
	start := time.Now()
	outcome, fetchErr := s.executor.ExecuteNhisFetch(ctx, FetchRequest{
		Targets:            key.NormalizedTargets,
		EffectiveYearLimit: s.yearLimit,
		BasePayload: map[string]any{
			"loginOrgCd": link.LoginOrgCd,
			"userName":   identity.Name,
			"birthday":   identity.BirthDateText,
			"hpNo":       identity.PhoneNormalized,
			"cookieData": link.CookieData,
			"stepData":   link.StepData,
		},
	})
	s.metrics.ProviderFetchSeconds.Observe(time.Since(start).Seconds())

	entry := &domain.NhisFetchCache{
		EmployeeID:   identity.EmployeeID,
		IdentityHash: identity.IdentityHash,
		RequestHash:  key.RequestHash,
		RequestKey:   key.RequestKey,
		Targets:      strings.Join(key.NormalizedTargets, ","),
		YearLimit:    s.yearLimit,
		SubjectType:  subjectTypeSelf,
	}

	if fetchErr != nil {
		s.metrics.ProviderFetchTotal.WithLabelValues("error").Inc()
		entry.StatusCode = 502
		entry.OK = false
		entry.Payload = `{"ok":false,"data":{"normalized":{}}}`
		if err := s.cache.Save(ctx, entry); err != nil {
			s.logger.Warn("failed to record failed fetch", zap.Error(err))
		}
		return nil, newFetchFailed(fmt.Sprintf("provider fetch failed: %v", fetchErr))
	}

	p := outcome.Payload
	encoded, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode fetched payload: %w", err)
	}
	entry.OK = p.OK
	entry.Payload = encoded
	if p.OK {
		entry.StatusCode = 200
	} else {
		entry.StatusCode = 502
	}
	if err := s.cache.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save fetch cache entry: %w", err)
	}

	if !p.OK {
		s.metrics.ProviderFetchTotal.WithLabelValues("failed").Inc()
		if outcome.FirstFailed != nil &&
			(outcome.FirstFailed.ErrCd == errCdLoginExpired || outcome.FirstFailed.ErrCd == errCdSessionInvalid) {
			return nil, newAuthExpired(outcome.FirstFailed.ErrCd, outcome.FirstFailed.ErrMsg)
		}
		reason := "provider returned no usable data"
		if outcome.FirstFailed != nil {
			reason = fmt.Sprintf("provider fetch failed (%s): %s", outcome.FirstFailed.ErrCd, outcome.FirstFailed.ErrMsg)
		}
		return nil, newFetchFailed(reason)
	}

	if p.Partial {
		s.metrics.ProviderFetchTotal.WithLabelValues("partial").Inc()
	} else {
		s.metrics.ProviderFetchTotal.WithLabelValues("ok").Inc()
	}

	if _, err := s.patcher.Patch(ctx, PatchInput{
		Identity:    identity,
		Link:        link,
		YearLimit:   s.yearLimit,
		SubjectType: subjectTypeSelf,
		Payload:     p,
	}); err != nil {
		return nil, fmt.Errorf("failed to patch payload: %w", err)
	}

	return s.finishSuccess(ctx, identity, p, domain.SourceFresh, true)
}

// finishSuccess 成功收尾：快照 → lastSyncedAt → 链接旁路写
func (s *healthSyncService) finishSuccess(ctx context.Context, identity Identity, p *payload.Payload, source string, markFetched bool) (*SyncResult, error) {
	now := time.Now()

	normalizedJSON, err := json.Marshal(p.Data.Normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to encode normalized payload: %w", err)
	}

	snap := &domain.HealthDataSnapshot{
		EmployeeID:     identity.EmployeeID,
		Provider:       ProviderHyphenNhis,
		SourceMode:     source,
		RawJSON:        string(p.Data.Raw),
		NormalizedJSON: string(normalizedJSON),
		FetchedAt:      now.Unix(),
		PeriodKey:      now.Format("200601"),
		ReportCycle:    "monthly",
	}
	if err := s.snapshots.Insert(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	s.metrics.SnapshotsTotal.WithLabelValues(source).Inc()

	if err := s.employees.TouchLastSynced(ctx, identity.EmployeeID, now); err != nil {
		return nil, fmt.Errorf("failed to update last synced: %w", err)
	}

	// 旁路写：失败只记日志，不影响同步结果
	if markFetched {
		if err := persistLinkFromPayload(ctx, s.links, identity.EmployeeID, identity.IdentityHash, p, true, now); err != nil {
			s.logger.Warn("failed to persist link from payload",
				zap.String("employee_id", identity.EmployeeID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("nhis sync completed",
		zap.String("employee_id", identity.EmployeeID),
		zap.String("source", source),
	)

	return &SyncResult{Source: source, Payload: p, Snapshot: snap}, nil
}

// markHit 命中计数旁路写
func (s *healthSyncService) markHit(ctx context.Context, cacheID string) {
	if err := s.cache.MarkHit(ctx, cacheID); err != nil {
		s.logger.Warn("failed to mark cache hit",
			zap.String("cache_id", cacheID),
			zap.Error(err),
		)
	}
}
