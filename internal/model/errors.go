// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, license, project, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput           = "INVALID_INPUT"
	ErrCodeLicenseNotFound        = "LICENSE_NOT_FOUND"
	ErrCodeLicenseAlreadyUsed     = "LICENSE_ALREADY_USED"
	ErrCodeLicenseCodeConflict    = "LICENSE_CODE_CONFLICT"
	ErrCodeProjectNotFound        = "PROJECT_NOT_FOUND"
	ErrCodeProjectAlreadyExists   = "PROJECT_ALREADY_EXISTS"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeInvalidPhaseState      = "INVALID_PHASE_STATE"
	ErrCodeStoreUnavailable       = "STORE_UNAVAILABLE"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidInputError は入力不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewLicenseNotFoundError はライセンスコード未検出エラーを生成する。
// コード自体はメッセージに含めない。
func NewLicenseNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeLicenseNotFound,
		Message:  "無効なライセンスキーです。",
		Category: "license",
		Action:   "ライセンスキーを確認して再度入力してください。",
	}
}

// NewLicenseAlreadyUsedError は引き換え済みエラーを生成する。
// 事前に使用済みだった場合と、同時実行の競合に負けた場合を区別しない。
func NewLicenseAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeLicenseAlreadyUsed,
		Message:  "このライセンスキーは既に引き換えられています。",
		Category: "license",
		Action:   "購入時のメールアドレスでログインするか、サポートにお問い合わせください。",
	}
}

// NewLicenseCodeConflictError は発行しようとしたコードが既に存在する場合のエラーを生成する。
func NewLicenseCodeConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeLicenseCodeConflict,
		Message:  "同じライセンスキーが既に存在します。",
		Category: "license",
		Action:   "別のコードを指定するか、コードを空にして自動生成してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewProjectAlreadyExistsError はプロジェクトIDが重複している場合のエラーを生成する。
func NewProjectAlreadyExistsError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectAlreadyExists,
		Message:  fmt.Sprintf("プロジェクトは既に存在します: %s", projectID),
		Category: "project",
		Action:   "別のプロジェクトIDを指定してください。",
	}
}

// NewConcurrentModificationError は同時更新による競合エラーを生成する。
// 呼び出し元は最新状態を取得し直して再試行できる。
func NewConcurrentModificationError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentModification,
		Message:  fmt.Sprintf("プロジェクトが同時に更新されました: %s", projectID),
		Category: "project",
		Action:   "最新の状態を確認してから再度お試しください。",
	}
}

// NewInvalidPhaseStateError は保存されているフェーズが既知の列挙に含まれない場合のエラーを生成する。
// データ破損として扱い、再試行しない。
func NewInvalidPhaseStateError(projectID string, phase Phase) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhaseState,
		Message:  fmt.Sprintf("プロジェクトのフェーズが不正です: %s (%q)", projectID, string(phase)),
		Category: "system",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewStoreUnavailableError はストレージ障害エラーを生成する。
// 部分的な書き込みは発生しないため、操作全体を再試行してよい。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}
