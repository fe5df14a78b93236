package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"hyphen-sync/internal/payload"
	"hyphen-sync/internal/service"

	"go.uber.org/zap"
)

// SyncHandler NHIS 同步 Handler
type SyncHandler struct {
	syncService service.HealthSyncService
	logger      *zap.Logger
}

// NewSyncHandler 创建 SyncHandler
func NewSyncHandler(syncService service.HealthSyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// syncResponse 同步成功响应体
type syncResponse struct {
	Source     string           `json:"source"` // cache-valid | cache-history | fresh
	Payload    *payload.Payload `json:"payload"`
	SnapshotID string           `json:"snapshotId"`
	FetchedAt  int64            `json:"fetchedAt"`
}

// ServeHTTP 处理 HTTP 请求
// 路由：POST /b2b/api/v1/employees/:id/nhis-sync?force=true
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	employeeID := extractEmployeeIDFromPath(r.URL.Path)
	if employeeID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("employee_id is required"))
		return
	}

	force := r.URL.Query().Get("force") == "true"

	h.logger.Info("nhis sync requested",
		zap.String("employee_id", employeeID),
		zap.Bool("force", force),
	)

	result, err := h.syncService.SyncEmployee(r.Context(), service.SyncRequest{
		EmployeeID:   employeeID,
		ForceRefresh: force,
	})
	if err != nil {
		h.writeSyncError(w, employeeID, err)
		return
	}

	writeJSON(w, http.StatusOK, Ok(syncResponse{
		Source:     result.Source,
		Payload:    result.Payload,
		SnapshotID: result.Snapshot.SnapshotID,
		FetchedAt:  result.Snapshot.FetchedAt,
	}))
}

// writeSyncError 错误分层：类型化同步错误带 nextAction 透出，
// 其余按内部错误处理。
func (h *SyncHandler) writeSyncError(w http.ResponseWriter, employeeID string, err error) {
	var se *service.SyncError
	if errors.As(err, &se) {
		h.logger.Warn("nhis sync rejected",
			zap.String("employee_id", employeeID),
			zap.String("error_code", se.Code),
		)
		writeJSON(w, se.Status, FailSync(se.Code, se.Reason, se.NextAction))
		return
	}
	if errors.Is(err, service.ErrEmployeeNotFound) {
		writeJSON(w, http.StatusNotFound, Fail("employee not found"))
		return
	}

	h.logger.Error("nhis sync failed",
		zap.String("employee_id", employeeID),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
}

// extractEmployeeIDFromPath 从 /b2b/api/v1/employees/:id/nhis-sync 提取 :id
func extractEmployeeIDFromPath(path string) string {
	const prefix = "/b2b/api/v1/employees/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "nhis-sync" {
		return ""
	}
	return parts[0]
}
