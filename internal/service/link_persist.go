package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"hyphen-sync/internal/payload"
	"hyphen-sync/internal/repository"
)

// 会话工件搜索的子树优先级
// 原始载荷各领域分区中，medication 最常携带刷新后的会话数据。
var sessionSearchOrder = []string{
	"medication",
	"medical",
	"checkupOverview",
	"healthAge",
	"checkupYearly",
	"checkupList",
}

var (
	cookieKeyVariants = []string{"cookieData", "cookie_data"}
	stepKeyVariants   = []string{"stepData", "step_data"}
)

// 原始载荷嵌套深度上限，超出不再下钻
const sessionSearchMaxDepth = 8

// sessionArtifacts 从原始载荷中提取到的会话工件
type sessionArtifacts struct {
	CookieData string
	StepData   string
}

// extractSessionArtifacts 在原始载荷树中搜索会话工件
// 先按优先级遍历各领域子树，再回退到整棵树；cookie 与 step 各自
// 首次命中即定（first-match-wins），命中后不再被后续子树覆盖。
func extractSessionArtifacts(raw json.RawMessage) sessionArtifacts {
	var out sessionArtifacts
	if len(raw) == 0 {
		return out
	}

	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return out
	}

	scopes := make([]any, 0, len(sessionSearchOrder)+1)
	for _, section := range sessionSearchOrder {
		if sub, ok := root[section]; ok {
			scopes = append(scopes, sub)
		}
	}
	scopes = append(scopes, root)

	for _, scope := range scopes {
		if out.CookieData == "" {
			if v, ok := findSessionValue(scope, cookieKeyVariants, 0); ok {
				out.CookieData = v
			}
		}
		if out.StepData == "" {
			if v, ok := findSessionValue(scope, stepKeyVariants, 0); ok {
				out.StepData = v
			}
		}
		if out.CookieData != "" && out.StepData != "" {
			break
		}
	}
	return out
}

// findSessionValue 深度受限的树搜索
// map 按键排序遍历，保证跨运行结果稳定。命中值为字符串时直接采用，
// 为对象/数组时重新序列化为不透明 JSON 字符串。
func findSessionValue(node any, variants []string, depth int) (string, bool) {
	if depth > sessionSearchMaxDepth {
		return "", false
	}

	switch n := node.(type) {
	case map[string]any:
		for _, variant := range variants {
			if v, ok := n[variant]; ok {
				if s, ok := sessionValueString(v); ok {
					return s, true
				}
			}
		}
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := findSessionValue(n[k], variants, depth+1); ok {
				return s, true
			}
		}
	case []any:
		for _, item := range n {
			if s, ok := findSessionValue(item, variants, depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

func sessionValueString(v any) (string, bool) {
	if s, ok := payload.AsString(v); ok {
		if s == "" {
			return "", false
		}
		return s, true
	}
	switch v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

// persistLinkFromPayload 成功抓取后机会性刷新链接行
// 会话工件有则更新、无则保留旧值；身份哈希总是回写；错误字段清空。
// LastFetchedAt 只在真实抓取（markFetched）时触碰。调用方把本函数
// 当作尽力而为的旁路写：失败记 warn 日志，不影响同步结果。
func persistLinkFromPayload(ctx context.Context, links repository.NhisLinksRepository, employeeID, identityHash string, p *payload.Payload, markFetched bool, now time.Time) error {
	patch := repository.LinkPatch{
		LastIdentityHash: &identityHash,
		ClearError:       true,
	}

	artifacts := extractSessionArtifacts(p.Data.Raw)
	if artifacts.CookieData != "" {
		patch.CookieData = &artifacts.CookieData
	}
	if artifacts.StepData != "" {
		patch.StepData = &artifacts.StepData
	}
	if markFetched {
		patch.LastFetchedAt = &now
	}

	return links.UpsertLink(ctx, employeeID, patch)
}
