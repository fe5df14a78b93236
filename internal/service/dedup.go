package service

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// DedupCoordinator 并发去重协调器
// 保证同一 key 在任意时刻至多有一次执行在途：后到的调用等待并共享
// 同一个结果（或同一个错误）。执行结束（成功或失败）后 key 被移除，
// 之后的调用会重新执行。
//
// 接口化以便多实例部署时替换为分布式锁实现；默认的内存实现只提供
// 单进程保证，跨进程的并发写由存储层的唯一约束兜底。
type DedupCoordinator interface {
	// Run 执行 fn；若相同 key 已在途则等待并共享其结果。
	// 返回值 shared 表示本次调用是否共享了他人的执行。
	Run(ctx context.Context, key string, fn func() (any, error)) (v any, shared bool, err error)
}

// MemoryDedupCoordinator 进程内去重实现
// 内部的 singleflight.Group 即"key → 在途执行"映射，settle 后自动移除。
type MemoryDedupCoordinator struct {
	group singleflight.Group
}

// NewMemoryDedupCoordinator 创建进程内去重协调器
func NewMemoryDedupCoordinator() *MemoryDedupCoordinator {
	return &MemoryDedupCoordinator{}
}

// 确保实现了接口
var _ DedupCoordinator = (*MemoryDedupCoordinator)(nil)

// Run 执行 fn（singleflight 语义；ctx 传递给 fn 由调用方闭包完成）
func (m *MemoryDedupCoordinator) Run(ctx context.Context, key string, fn func() (any, error)) (any, bool, error) {
	v, err, shared := m.group.Do(key, fn)
	return v, shared, err
}
