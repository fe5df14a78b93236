package service

import (
	"context"
	"sort"
	"strings"

	"hyphen-sync/internal/domain"
	"hyphen-sync/internal/metrics"
	"hyphen-sync/internal/payload"
	"hyphen-sync/internal/repository"

	"go.uber.org/zap"
)

// 摘要分区 → 补抓 target 的映射
// medication 分区对应 medication target，checkup 分区的摘要由
// checkupOverview target 承载。
const (
	sectionMedication = "medication"
	sectionCheckup    = "checkup"

	targetMedication      = "medication"
	targetCheckupOverview = "checkupOverview"
)

// PatchInput 补抓输入
type PatchInput struct {
	Identity    Identity
	Link        *domain.NhisLink // 可为 nil（未建立链接时只走缓存层）
	YearLimit   int
	SubjectType string
	Payload     *payload.Payload // 被补齐的基础载荷（就地修改）
}

// PatchResult 补抓结果
type PatchResult struct {
	Payload        *payload.Payload
	UsedNetwork    bool     // 本次补抓是否通过真实网络抓取拿到了可用载荷
	PatchedTargets []string // 实际补上的 target 列表
}

// PayloadPatcher 载荷补抓器
// 基础载荷中摘要分区缺失（键不存在，而非"存在但为空"）时，按
// 有效缓存 → 历史缓存 → 真实抓取的顺序补齐。整个补抓过程至多
// 发起一次网络抓取（缺失 target 合并为一次批量请求），补完不再
// 复查——仍然缺失就保持缺失。
type PayloadPatcher struct {
	cache    *FetchCacheStore
	executor NhisFetchExecutor
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewPayloadPatcher 创建载荷补抓器
func NewPayloadPatcher(cache *FetchCacheStore, executor NhisFetchExecutor, collector *metrics.Collector, logger *zap.Logger) *PayloadPatcher {
	return &PayloadPatcher{
		cache:    cache,
		executor: executor,
		metrics:  collector,
		logger:   logger,
	}
}

// ResolveMissingSummaryTargets 判定基础载荷缺失的摘要 target
// "存在但为空"（空数组）是确认过的无记录，不算缺失。
func ResolveMissingSummaryTargets(p *payload.Payload) []string {
	if p == nil {
		return []string{targetMedication, targetCheckupOverview}
	}

	var missing []string
	if !medicationPresent(p.Data.Normalized) {
		missing = append(missing, targetMedication)
	}
	if !checkupPresent(p.Data.Normalized) {
		missing = append(missing, targetCheckupOverview)
	}
	return missing
}

// medicationPresent 投药分区是否存在
// 裸数组，或含任一列表键（list/rows/items/history）为数组的对象，
// 都算存在。空数组同样算存在。
func medicationPresent(normalized map[string]any) bool {
	v, ok := normalized[sectionMedication]
	if !ok {
		return false
	}
	if _, ok := payload.AsArray(v); ok {
		return true
	}
	if rec, ok := payload.AsRecord(v); ok {
		for _, key := range []string{"list", "rows", "items", "history"} {
			if _, ok := payload.AsArray(rec[key]); ok {
				return true
			}
		}
	}
	return false
}

// checkupPresent 体检分区是否存在
func checkupPresent(normalized map[string]any) bool {
	v, ok := normalized[sectionCheckup]
	if !ok {
		return false
	}
	if _, ok := payload.AsArray(v); ok {
		return true
	}
	if rec, ok := payload.AsRecord(v); ok {
		for _, key := range []string{"overview", "list"} {
			if _, ok := payload.AsArray(rec[key]); ok {
				return true
			}
		}
	}
	return false
}

// Patch 补齐基础载荷的缺失摘要分区
func (p *PayloadPatcher) Patch(ctx context.Context, in PatchInput) (*PatchResult, error) {
	result := &PatchResult{Payload: in.Payload}

	missing := ResolveMissingSummaryTargets(in.Payload)
	if len(missing) == 0 {
		return result, nil
	}
	sort.Strings(missing)

	p.logger.Info("Patching missing summary targets",
		zap.String("employee_id", in.Identity.EmployeeID),
		zap.Strings("targets", missing),
	)

	key := BuildRequestHash(RequestDescriptor{
		IdentityHash: in.Identity.IdentityHash,
		Targets:      missing,
		YearLimit:    in.YearLimit,
		SubjectType:  in.SubjectType,
	})

	patch := p.lookupCached(ctx, in, key)

	if patch == nil && in.Link != nil && in.Link.CookieData != "" {
		// 只有拿到可用载荷才算"走了网络"：失败的补抓不应把缓存命中
		// 重新记账为 fresh，也不应触碰 last_fetched_at
		patch = p.fetchLive(ctx, in, key, missing)
		result.UsedNetwork = patch != nil
	}

	if patch == nil {
		return result, nil
	}

	result.PatchedTargets = mergePatch(in.Payload, patch, missing)
	for _, t := range result.PatchedTargets {
		p.metrics.PatchFetchTotal.WithLabelValues(t).Inc()
	}
	return result, nil
}

// lookupCached 有效缓存 → 历史缓存
func (p *PayloadPatcher) lookupCached(ctx context.Context, in PatchInput, key RequestKey) *payload.Payload {
	entry, err := p.cache.GetValidCache(ctx, in.Identity.EmployeeID, key.RequestHash)
	if err != nil {
		p.logger.Warn("patch cache lookup failed", zap.Error(err))
		entry = nil
	}
	if entry == nil {
		entry, err = p.cache.GetLatestByIdentity(ctx, repository.LatestQuery{
			EmployeeID:   in.Identity.EmployeeID,
			IdentityHash: in.Identity.IdentityHash,
			Targets:      strings.Join(key.NormalizedTargets, ","),
			YearLimit:    in.YearLimit,
			SubjectType:  in.SubjectType,
		})
		if err != nil {
			p.logger.Warn("patch history lookup failed", zap.Error(err))
			entry = nil
		}
	}
	if entry == nil || !entry.OK {
		return nil
	}

	decoded, err := payload.Decode(entry.Payload)
	if err != nil {
		p.logger.Warn("failed to decode cached patch payload",
			zap.String("cache_id", entry.CacheID),
			zap.Error(err),
		)
		return nil
	}
	return decoded
}

// fetchLive 真实抓取缺失 target，无论成败都追加缓存条目
func (p *PayloadPatcher) fetchLive(ctx context.Context, in PatchInput, key RequestKey, targets []string) *payload.Payload {
	outcome, err := p.executor.ExecuteNhisFetch(ctx, FetchRequest{
		Targets:            targets,
		EffectiveYearLimit: in.YearLimit,
		BasePayload: map[string]any{
			"loginOrgCd": in.Link.LoginOrgCd,
			"userName":   in.Identity.Name,
			"birthday":   in.Identity.BirthDateText,
			"hpNo":       in.Identity.PhoneNormalized,
			"cookieData": in.Link.CookieData,
			"stepData":   in.Link.StepData,
		},
	})

	entry := &domain.NhisFetchCache{
		EmployeeID:   in.Identity.EmployeeID,
		IdentityHash: in.Identity.IdentityHash,
		RequestHash:  key.RequestHash,
		RequestKey:   key.RequestKey,
		Targets:      strings.Join(key.NormalizedTargets, ","),
		YearLimit:    in.YearLimit,
		SubjectType:  in.SubjectType,
	}

	if err != nil {
		p.logger.Warn("patch fetch failed", zap.Error(err))
		entry.StatusCode = 502
		entry.OK = false
		entry.Payload = `{"ok":false,"data":{"normalized":{}}}`
		p.saveEntry(ctx, entry)
		return nil
	}

	encoded, encErr := outcome.Payload.Encode()
	if encErr != nil {
		p.logger.Warn("failed to encode patch payload", zap.Error(encErr))
		return nil
	}
	entry.StatusCode = 200
	entry.OK = outcome.Payload.OK
	entry.Payload = encoded
	if !outcome.Payload.OK {
		entry.StatusCode = 502
	}
	p.saveEntry(ctx, entry)

	if !outcome.Payload.OK {
		return nil
	}
	return outcome.Payload
}

func (p *PayloadPatcher) saveEntry(ctx context.Context, entry *domain.NhisFetchCache) {
	if err := p.cache.Save(ctx, entry); err != nil {
		p.logger.Warn("failed to save patch cache entry", zap.Error(err))
	}
}

// mergePatch 把补抓载荷合并进基础载荷
// medication 整段替换；checkup 只覆盖 overview 子键，保留其余子键。
// 返回实际补上的 target 列表。
func mergePatch(base, patch *payload.Payload, targets []string) []string {
	if base.Data.Normalized == nil {
		base.Data.Normalized = map[string]any{}
	}

	var patched []string
	for _, target := range targets {
		switch target {
		case targetMedication:
			v, ok := patch.Data.Normalized[sectionMedication]
			if !ok {
				continue
			}
			base.Data.Normalized[sectionMedication] = v
			patched = append(patched, target)

		case targetCheckupOverview:
			overview, ok := extractCheckupOverview(patch.Data.Normalized)
			if !ok {
				continue
			}
			rec, isRec := payload.AsRecord(base.Data.Normalized[sectionCheckup])
			if !isRec {
				rec = map[string]any{}
				base.Data.Normalized[sectionCheckup] = rec
			}
			rec["overview"] = overview
			patched = append(patched, target)
		}
	}
	return patched
}

// extractCheckupOverview 从补抓载荷中取体检摘要
// 兼容三种形状：checkup 对象的 overview 子键、checkup 位置上的裸数组、
// 以及裸的 checkupOverview 分区。
func extractCheckupOverview(normalized map[string]any) (any, bool) {
	if rec, ok := payload.AsRecord(normalized[sectionCheckup]); ok {
		if v, ok := rec["overview"]; ok {
			return v, true
		}
	}
	if arr, ok := payload.AsArray(normalized[sectionCheckup]); ok {
		return arr, true
	}
	if v, ok := normalized[targetCheckupOverview]; ok {
		return v, true
	}
	return nil, false
}
