package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/atelier/internal/middleware"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/project"
)

// ProjectCreator はプロジェクト作成に必要なサービスインターフェース。
type ProjectCreator interface {
	Create(ctx context.Context, req project.CreateProjectRequest) (*model.Project, error)
}

// WorkflowServiceInterface はプロジェクトとイベントのハンドラーが必要とするサービスインターフェース。
// 所有者以外のプロジェクトはPROJECT_NOT_FOUNDとして扱われる。
type WorkflowServiceInterface interface {
	Get(ctx context.Context, userID, projectID string) (*model.Project, error)
	Advance(ctx context.Context, userID, projectID string) (*project.AdvanceResult, error)
	OnMessageSent(ctx context.Context, userID, projectID string) (*project.AdvanceResult, error)
	OnDraftProduced(ctx context.Context, userID, subject string) error
}

// ProjectHandler はプロジェクトのHTTPハンドラー。
type ProjectHandler struct {
	creator  ProjectCreator
	workflow WorkflowServiceInterface
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(creator ProjectCreator, workflow WorkflowServiceInterface) *ProjectHandler {
	return &ProjectHandler{
		creator:  creator,
		workflow: workflow,
	}
}

// createProjectRequest はプロジェクト作成リクエストのボディ。idは省略可能。
type createProjectRequest struct {
	ID string `json:"id"`
}

// phaseEntryResponse はフェーズ履歴の1エントリ。
type phaseEntryResponse struct {
	Phase     string    `json:"phase"`
	EnteredAt time.Time `json:"enteredAt"`
}

// projectResponse はプロジェクト情報のAPIレスポンス。
type projectResponse struct {
	ID           string               `json:"id"`
	OwnerID      string               `json:"ownerId"`
	CurrentPhase string               `json:"currentPhase"`
	PhaseHistory []phaseEntryResponse `json:"phaseHistory"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// advanceResponse はフェーズ進行のAPIレスポンス。
type advanceResponse struct {
	projectResponse
	PreviousPhase string `json:"previousPhase"`
	Transitioned  bool   `json:"transitioned"`
}

// CreateProject はプロジェクトを作成する。オーナーは呼び出し元ユーザー。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createProjectRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	p, err := h.creator.Create(r.Context(), project.CreateProjectRequest{
		ID:      req.ID,
		OwnerID: userID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectResponse(p))
}

// GetProject はプロジェクトをフェーズ履歴付きで返す。
// GET /api/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	p, err := h.workflow.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProjectResponse(p))
}

// AdvanceProject はプロジェクトを次のフェーズへ進める。
// 終端フェーズでは変更せずに200を返す。
// POST /api/projects/{id}/advance
func (h *ProjectHandler) AdvanceProject(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	res, err := h.workflow.Advance(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAdvanceResponse(res))
}

// toProjectResponse はmodel.ProjectからAPIレスポンスに変換する。
func toProjectResponse(p *model.Project) projectResponse {
	history := make([]phaseEntryResponse, len(p.PhaseHistory))
	for i, e := range p.PhaseHistory {
		history[i] = phaseEntryResponse{Phase: string(e.Phase), EnteredAt: e.EnteredAt}
	}
	return projectResponse{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		CurrentPhase: string(p.CurrentPhase),
		PhaseHistory: history,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func toAdvanceResponse(res *project.AdvanceResult) advanceResponse {
	return advanceResponse{
		projectResponse: toProjectResponse(res.Project),
		PreviousPhase:   string(res.Previous),
		Transitioned:    res.Transitioned,
	}
}
