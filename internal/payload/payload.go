package payload

import (
	"encoding/json"
	"fmt"
)

// FailedTarget 单个 target 的失败信息（部分失败语义的最小单元）
type FailedTarget struct {
	Target string `json:"target"`
	ErrCd  string `json:"errCd"`
	ErrMsg string `json:"errMsg"`
}

// Data 抓取载荷的数据部分
// Normalized 为各领域分区（medication / checkup / healthAge / ...）；
// 分区"缺失"（键不存在）与"存在但为空"（空数组）是两种不同状态：
// 前者表示"尚不知道"，后者表示"确认无记录"。
type Data struct {
	Normalized map[string]any  `json:"normalized"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Payload NHIS 抓取路由载荷
type Payload struct {
	OK      bool           `json:"ok"`
	Partial bool           `json:"partial"`
	Failed  []FailedTarget `json:"failed,omitempty"`
	Data    Data           `json:"data"`
}

// Decode 从 JSON 字符串解析载荷
func Decode(s string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return &p, nil
}

// Encode 序列化载荷为 JSON 字符串
func (p *Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// AsRecord 将任意 JSON 值按对象解读
// 键不存在的情况由调用方区分；这里只区分"是对象"与"不是对象"。
func AsRecord(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// AsArray 将任意 JSON 值按数组解读
// 空数组返回 ([], true)——"存在但为空"是合法结果，不是缺失。
func AsArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}

// AsString 将任意 JSON 值按字符串解读
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
