package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/atelier/internal/license"
	"github.com/hitoshi/atelier/internal/model"
)

// LicenseServiceInterface はライセンスハンドラーが必要とするサービスインターフェース。
type LicenseServiceInterface interface {
	// Redeem はライセンスコードを引き換える。
	Redeem(ctx context.Context, code string) (*model.RedemptionResult, error)
	// Issue は未使用のライセンスコードを発行する。
	Issue(ctx context.Context, req license.IssueRequest) (*model.SignupCode, error)
	// List は全ライセンスコードを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.SignupCode, error)
}

// LicenseHandler はライセンスコードのHTTPハンドラー。
type LicenseHandler struct {
	service LicenseServiceInterface
}

// NewLicenseHandler はLicenseHandlerを生成する。
func NewLicenseHandler(service LicenseServiceInterface) *LicenseHandler {
	return &LicenseHandler{service: service}
}

// redeemRequest はライセンス引き換えリクエストのボディ。
type redeemRequest struct {
	Code string `json:"code"`
}

// redeemResponse はライセンス引き換え成功時のレスポンス。
// emailとpaymentIdは発行時に設定されていない場合nullになる。
type redeemResponse struct {
	Success   bool    `json:"success"`
	Email     *string `json:"email"`
	PaymentID *string `json:"paymentId"`
}

// issueRequest はライセンスコード発行リクエストのボディ。
type issueRequest struct {
	Code      string  `json:"code"`
	Email     *string `json:"email"`
	PaymentID *string `json:"paymentId"`
}

// signupCodeResponse は管理者向けのライセンスコード情報。
type signupCodeResponse struct {
	Code      string     `json:"code"`
	PaymentID *string    `json:"paymentId"`
	Email     *string    `json:"email"`
	Used      bool       `json:"used"`
	CreatedAt time.Time  `json:"createdAt"`
	UsedAt    *time.Time `json:"usedAt"`
}

// Redeem はライセンスコードの引き換えを処理する。
// POST /redeem-license
func (h *LicenseHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}

	result, err := h.service.Redeem(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		Success:   result.Success,
		Email:     result.Email,
		PaymentID: result.PaymentID,
	})
}

// ListCodes は全ライセンスコードを返す。
// GET /admin-license-codes
func (h *LicenseHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]signupCodeResponse, len(codes))
	for i, c := range codes {
		resp[i] = toSignupCodeResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// IssueCode はライセンスコードを発行する。
// POST /admin-license-codes
func (h *LicenseHandler) IssueCode(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}

	issued, err := h.service.Issue(r.Context(), license.IssueRequest{
		Code:      req.Code,
		Email:     req.Email,
		PaymentID: req.PaymentID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSignupCodeResponse(issued))
}

// toSignupCodeResponse はmodel.SignupCodeからAPIレスポンスに変換する。
func toSignupCodeResponse(c *model.SignupCode) signupCodeResponse {
	return signupCodeResponse{
		Code:      c.Code,
		PaymentID: c.PaymentID,
		Email:     c.Email,
		Used:      c.Used,
		CreatedAt: c.CreatedAt,
		UsedAt:    c.UsedAt,
	}
}
