package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hyphen-sync/internal/domain"
	"hyphen-sync/internal/repository"
)

// ==================== 内存版 Repository 测试替身 ====================

type fakeCacheRepo struct {
	mu      sync.Mutex
	entries []*domain.NhisFetchCache
	hits    map[string]int

	saveErr error
	hitErr  error
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{hits: map[string]int{}}
}

func (f *fakeCacheRepo) GetValidCache(_ context.Context, employeeID, requestHash string, since time.Time) (*domain.NhisFetchCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.EmployeeID == employeeID && e.RequestHash == requestHash && e.OK && e.CreatedAt >= since.Unix() {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// GetLatestByIdentity 与真实 SQL 一致：取最新匹配行，不过滤 ok
// （最近一次失败尝试会遮蔽更早的成功条目，由调用方检查 ok）
func (f *fakeCacheRepo) GetLatestByIdentity(_ context.Context, q repository.LatestQuery) (*domain.NhisFetchCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.NhisFetchCache
	for _, e := range f.entries {
		if e.EmployeeID == q.EmployeeID && e.IdentityHash == q.IdentityHash &&
			e.Targets == q.Targets && e.YearLimit == q.YearLimit &&
			e.SubjectType == q.SubjectType {
			if latest == nil || e.CreatedAt >= latest.CreatedAt {
				latest = e
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeCacheRepo) Save(_ context.Context, entry *domain.NhisFetchCache) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.CacheID == "" {
		entry.CacheID = fmt.Sprintf("cache-%d", len(f.entries)+1)
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	cp := *entry
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeCacheRepo) MarkHit(_ context.Context, cacheID string) error {
	if f.hitErr != nil {
		return f.hitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[cacheID]++
	return nil
}

func (f *fakeCacheRepo) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeEmployeesRepo struct {
	mu        sync.Mutex
	employees map[string]*domain.B2bEmployee

	identityWrites []string
	syncTouches    []string
}

func newFakeEmployeesRepo(list ...*domain.B2bEmployee) *fakeEmployeesRepo {
	m := map[string]*domain.B2bEmployee{}
	for _, e := range list {
		m[e.EmployeeID] = e
	}
	return &fakeEmployeesRepo{employees: m}
}

func (f *fakeEmployeesRepo) GetEmployee(_ context.Context, employeeID string) (*domain.B2bEmployee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.employees[employeeID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEmployeesRepo) UpdateIdentityHash(_ context.Context, employeeID, identityHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.employees[employeeID]; ok {
		e.IdentityHash = identityHash
	}
	f.identityWrites = append(f.identityWrites, employeeID)
	return nil
}

func (f *fakeEmployeesRepo) TouchLastSynced(_ context.Context, employeeID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.employees[employeeID]; ok {
		e.LastSyncedAt = at.Unix()
	}
	f.syncTouches = append(f.syncTouches, employeeID)
	return nil
}

type fakeLinksRepo struct {
	mu    sync.Mutex
	links map[string]*domain.NhisLink

	patches   []repository.LinkPatch
	upsertErr error
}

func newFakeLinksRepo(list ...*domain.NhisLink) *fakeLinksRepo {
	m := map[string]*domain.NhisLink{}
	for _, l := range list {
		m[l.EmployeeID] = l
	}
	return &fakeLinksRepo{links: m}
}

func (f *fakeLinksRepo) GetLink(_ context.Context, employeeID string) (*domain.NhisLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[employeeID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLinksRepo) UpsertLink(_ context.Context, employeeID string, patch repository.LinkPatch) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[employeeID]
	if !ok {
		l = &domain.NhisLink{EmployeeID: employeeID}
		f.links[employeeID] = l
	}
	if patch.CookieData != nil {
		l.CookieData = *patch.CookieData
	}
	if patch.StepData != nil {
		l.StepData = *patch.StepData
	}
	if patch.LastIdentityHash != nil {
		l.LastIdentityHash = *patch.LastIdentityHash
	}
	if patch.LastFetchedAt != nil {
		l.LastFetchedAt = patch.LastFetchedAt.Unix()
	}
	if patch.ClearError {
		l.LastErrorCode = ""
		l.LastErrorMessage = ""
	}
	f.patches = append(f.patches, patch)
	return nil
}

type fakeSnapshotsRepo struct {
	mu        sync.Mutex
	snapshots []*domain.HealthDataSnapshot
}

func (f *fakeSnapshotsRepo) Insert(_ context.Context, snap *domain.HealthDataSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snap
	f.snapshots = append(f.snapshots, &cp)
	return nil
}

func (f *fakeSnapshotsRepo) sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.snapshots {
		out = append(out, s.SourceMode)
	}
	return out
}

// ==================== 抓取执行器测试替身 ====================

type fakeExecutor struct {
	calls int32
	fn    func(req FetchRequest) (*FetchOutcome, error)

	mu   sync.Mutex
	reqs []FetchRequest
}

func (f *fakeExecutor) ExecuteNhisFetch(_ context.Context, req FetchRequest) (*FetchOutcome, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeExecutor) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}
