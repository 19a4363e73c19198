package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

const (
	defaultBacklogLimit = 50
	maxBacklogLimit     = 500
)

// AlertLister 未解决报警查询（AlertsRepository 实现）
type AlertLister interface {
	ListUnresolved(ctx context.Context, patientIDs []string, limit int) ([]*models.Alert, error)
}

// AlertsHandler 报警积压查询（只读；标记已读 / 已解决由报警存储方负责）
type AlertsHandler struct {
	alerts AlertLister
	logger *zap.Logger
}

func NewAlertsHandler(alerts AlertLister, logger *zap.Logger) *AlertsHandler {
	return &AlertsHandler{
		alerts: alerts,
		logger: logger,
	}
}

// UnresolvedAlerts GET /alerts/unresolved?patientId=p-1&patientId=p-2&limit=50
func (h *AlertsHandler) UnresolvedAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	query := r.URL.Query()

	limit := defaultBacklogLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, Fail("limit must be a positive integer"))
			return
		}
		if n > maxBacklogLimit {
			n = maxBacklogLimit
		}
		limit = n
	}

	var patientIDs []string
	for _, id := range query["patientId"] {
		if id = strings.TrimSpace(id); id != "" {
			patientIDs = append(patientIDs, id)
		}
	}

	alerts, err := h.alerts.ListUnresolved(r.Context(), patientIDs, limit)
	if err != nil {
		h.logger.Error("Failed to list unresolved alerts",
			zap.Strings("patient_ids", patientIDs),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list unresolved alerts"))
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(alerts))
}

// RegisterAlertRoutes 注册报警查询路由
func (r *Router) RegisterAlertRoutes(h *AlertsHandler) {
	r.Handle("/alerts/unresolved", h.UnresolvedAlerts)
}
