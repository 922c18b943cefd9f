package handler

import (
	"net/http"

	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
)

// ワークフローイベントの種別
const (
	EventMessageSent   = "message_sent"
	EventDraftProduced = "draft_produced"
)

// EventHandler はメール連携から報告されるワークフローイベントのHTTPハンドラー。
type EventHandler struct {
	workflow WorkflowServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(workflow WorkflowServiceInterface) *EventHandler {
	return &EventHandler{workflow: workflow}
}

// eventRequest はワークフローイベントのボディ。
// typeに応じてprojectIdまたはsubjectを使用する。
type eventRequest struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Subject   string `json:"subject"`
}

// eventResponse はイベント受付時のレスポンス。
// message_sentの場合は遷移後のプロジェクトを含む。
type eventResponse struct {
	Accepted bool             `json:"accepted"`
	Project  *advanceResponse `json:"project,omitempty"`
}

// PostEvent はワークフローイベントを処理する。
// POST /api/events
func (h *EventHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req eventRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	switch req.Type {
	case EventMessageSent:
		res, err := h.workflow.OnMessageSent(r.Context(), userID, req.ProjectID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		resp := toAdvanceResponse(res)
		writeJSON(w, http.StatusAccepted, eventResponse{Accepted: true, Project: &resp})
	case EventDraftProduced:
		if err := h.workflow.OnDraftProduced(r.Context(), userID, req.Subject); err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, eventResponse{Accepted: true})
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("未知のイベント種別です: "+req.Type))
	}
}
