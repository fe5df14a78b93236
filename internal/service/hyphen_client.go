package service

import (
	"context"
	"fmt"
	"time"

	"hyphen-sync/internal/payload"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FetchRequest 一次批量抓取请求
// targets 作为批量抓取与部分失败的最小单元。
type FetchRequest struct {
	Targets            []string       `json:"targets"`
	EffectiveYearLimit int            `json:"yearLimit"`
	BasePayload        map[string]any `json:"basePayload,omitempty"`   // 身份与会话参数（cookieData/stepData 等）
	DetailPayload      map[string]any `json:"detailPayload,omitempty"` // 明细抓取参数（日期窗口等）
	RequestDefaults    map[string]any `json:"requestDefaults,omitempty"`
}

// FetchOutcome 抓取结果
type FetchOutcome struct {
	Payload     *payload.Payload
	FirstFailed *payload.FailedTarget // 首个失败 target（无失败为 nil）
}

// NhisFetchExecutor NHIS 抓取执行器接口（用于测试和扩展）
// 部分失败语义（某些 target 失败其余成功）由执行器一侧决定，
// 核心只消费 ok / partial / failed。
type NhisFetchExecutor interface {
	ExecuteNhisFetch(ctx context.Context, req FetchRequest) (*FetchOutcome, error)
}

// hyphenFetchResponse HYPHEN 网关响应（即路由载荷本体）
type hyphenFetchResponse struct {
	OK      bool                   `json:"ok"`
	Partial bool                   `json:"partial"`
	Failed  []payload.FailedTarget `json:"failed"`
	Data    payload.Data           `json:"data"`
}

// HyphenClient HYPHEN（NHIS 数据网关）厂家 API 客户端
// 外部网络依赖无上界，用熔断器 + 客户端限速收口。
type HyphenClient struct {
	httpClient *resty.Client
	breaker    *gobreaker.CircuitBreaker[*FetchOutcome]
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewHyphenClient 创建 HYPHEN 客户端
func NewHyphenClient(baseURL, apiKey string, timeout time.Duration, rps float64, burst int, logger *zap.Logger) *HyphenClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("Hkey", apiKey)
	}

	breaker := gobreaker.NewCircuitBreaker[*FetchOutcome](gobreaker.Settings{
		Name:        "hyphen-nhis-fetch",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = int(rps)
	}

	return &HyphenClient{
		httpClient: client,
		breaker:    breaker,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// 确保实现了接口
var _ NhisFetchExecutor = (*HyphenClient)(nil)

// ExecuteNhisFetch 执行批量抓取
func (c *HyphenClient) ExecuteNhisFetch(ctx context.Context, req FetchRequest) (*FetchOutcome, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("targets are required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	c.logger.Info("Calling HYPHEN API: nhis fetch",
		zap.Strings("targets", req.Targets),
		zap.Int("year_limit", req.EffectiveYearLimit),
	)

	outcome, err := c.breaker.Execute(func() (*FetchOutcome, error) {
		var response hyphenFetchResponse
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&response).
			Post("/hyphen/v1/nhis/fetch")

		if err != nil {
			c.logger.Error("HYPHEN API call failed", zap.Error(err))
			return nil, fmt.Errorf("failed to call HYPHEN API: %w", err)
		}
		if resp.IsError() {
			c.logger.Error("HYPHEN API returned error status",
				zap.Int("status_code", resp.StatusCode()),
			)
			return nil, fmt.Errorf("HYPHEN API error: status %d", resp.StatusCode())
		}

		p := &payload.Payload{
			OK:      response.OK,
			Partial: response.Partial,
			Failed:  response.Failed,
			Data:    response.Data,
		}
		if p.Data.Normalized == nil {
			p.Data.Normalized = map[string]any{}
		}

		out := &FetchOutcome{Payload: p}
		if len(response.Failed) > 0 {
			out.FirstFailed = &response.Failed[0]
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("HYPHEN fetch completed",
		zap.Bool("ok", outcome.Payload.OK),
		zap.Bool("partial", outcome.Payload.Partial),
		zap.Int("failed_count", len(outcome.Payload.Failed)),
	)

	return outcome, nil
}
