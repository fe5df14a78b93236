package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"hyphen-sync/internal/domain"
	"hyphen-sync/internal/payload"
	"hyphen-sync/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSyncService struct {
	lastReq service.SyncRequest
	result  *service.SyncResult
	err     error
}

func (s *stubSyncService) SyncEmployee(_ context.Context, req service.SyncRequest) (*service.SyncResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newSyncRouter(svc service.HealthSyncService) *Router {
	r := NewRouter(zap.NewNop())
	r.RegisterSyncRoutes(NewSyncHandler(svc, zap.NewNop()))
	return r
}

// TestSyncHandler_Success 测试成功同步响应
func TestSyncHandler_Success(t *testing.T) {
	svc := &stubSyncService{result: &service.SyncResult{
		Source:  domain.SourceCacheValid,
		Payload: &payload.Payload{OK: true, Data: payload.Data{Normalized: map[string]any{}}},
		Snapshot: &domain.HealthDataSnapshot{
			SnapshotID: "snap-1",
			FetchedAt:  1700000000,
		},
	}}
	router := newSyncRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/b2b/api/v1/employees/e1/nhis-sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "e1", svc.lastReq.EmployeeID)
	require.False(t, svc.lastReq.ForceRefresh)

	var body Result[syncResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ResultSuccess, body.Code)
	require.Equal(t, "cache-valid", body.Result.Source)
	require.Equal(t, "snap-1", body.Result.SnapshotID)
}

// TestSyncHandler_ForceQuery 测试 force=true 透传
func TestSyncHandler_ForceQuery(t *testing.T) {
	svc := &stubSyncService{result: &service.SyncResult{
		Source:   domain.SourceFresh,
		Payload:  &payload.Payload{OK: true},
		Snapshot: &domain.HealthDataSnapshot{SnapshotID: "snap-2"},
	}}
	router := newSyncRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/b2b/api/v1/employees/e1/nhis-sync?force=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.lastReq.ForceRefresh)
}

// TestSyncHandler_TypedErrors 测试类型化错误到响应的映射
func TestSyncHandler_TypedErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        *service.SyncError
		wantStatus int
		wantAction string
	}{
		{
			name:       "init required",
			err:        &service.SyncError{Code: service.CodeInitRequired, Reason: "no link", Status: 409, NextAction: "init"},
			wantStatus: 409,
			wantAction: "init",
		},
		{
			name:       "sign required",
			err:        &service.SyncError{Code: service.CodeSignRequired, Reason: "no session", Status: 409, NextAction: "sign"},
			wantStatus: 409,
			wantAction: "sign",
		},
		{
			name:       "fetch failed",
			err:        &service.SyncError{Code: service.CodeFetchFailed, Reason: "gateway down", Status: 502, NextAction: "retry"},
			wantStatus: 502,
			wantAction: "retry",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newSyncRouter(&stubSyncService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/b2b/api/v1/employees/e1/nhis-sync", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)

			var body Result[SyncErrorDetail]
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, ResultError, body.Code)
			require.Equal(t, tc.err.Code, body.Result.ErrorCode)
			require.Equal(t, tc.wantAction, body.Result.NextAction)
		})
	}
}

// TestSyncHandler_EmployeeNotFound 测试员工不存在映射为 404
func TestSyncHandler_EmployeeNotFound(t *testing.T) {
	router := newSyncRouter(&stubSyncService{err: service.ErrEmployeeNotFound})

	req := httptest.NewRequest(http.MethodPost, "/b2b/api/v1/employees/missing/nhis-sync", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

// TestSyncHandler_BadPaths 测试非法路径与方法
func TestSyncHandler_BadPaths(t *testing.T) {
	router := newSyncRouter(&stubSyncService{})

	// 缺少 nhis-sync 后缀
	req := httptest.NewRequest(http.MethodPost, "/b2b/api/v1/employees/e1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// GET 不允许
	req = httptest.NewRequest(http.MethodGet, "/b2b/api/v1/employees/e1/nhis-sync", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
