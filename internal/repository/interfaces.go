// Package repository はデータ永続化のインターフェースと実装を提供する。
//
// 各リポジトリは「取得」「存在しない場合のみ作成」「条件付き更新」の3操作を提供する。
// 条件付き更新はキー単位で線形化可能であり、同一キーへの同時更新では
// 先にコミットした側が勝ち、負けた側はUpdatePredicateFailedを受け取る。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// ErrAlreadyExists はCreate時にキーが既に存在する場合に返される。
var ErrAlreadyExists = errors.New("record already exists")

// UpdateResult は条件付き更新の結果を表す。
// ストレージ障害はUpdateResultではなくerrorで返される。
type UpdateResult int

const (
	// UpdateCommitted は述語が成立し、変更がコミットされたことを示す。
	UpdateCommitted UpdateResult = iota
	// UpdatePredicateFailed は述語が成立せず、何も変更されなかったことを示す。
	UpdatePredicateFailed
	// UpdateNotFound はキーに対応するレコードが存在しないことを示す。
	UpdateNotFound
)

// String はUpdateResultの文字列表現を返す。ログとメトリクスのラベルに使用する。
func (r UpdateResult) String() string {
	switch r {
	case UpdateCommitted:
		return "committed"
	case UpdatePredicateFailed:
		return "predicate_failed"
	case UpdateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// SignupCodeRepository はライセンスコードの永続化インターフェース。
type SignupCodeRepository interface {
	// FindByCode は指定コードのライセンスコードを取得する。見つからない場合はnilを返す。
	FindByCode(ctx context.Context, code string) (*model.SignupCode, error)

	// Create はライセンスコードを作成する。
	// 同じコードが既に存在する場合はErrAlreadyExistsを返し、既存レコードは変更しない。
	Create(ctx context.Context, code *model.SignupCode) error

	// MarkUsed は used = false の場合に限り used = true, used_at = usedAt を設定する。
	// 既に使用済みの場合はUpdatePredicateFailedを返す。
	MarkUsed(ctx context.Context, code string, usedAt time.Time) (UpdateResult, error)

	// List は全ライセンスコードを作成日時の降順で返す。
	List(ctx context.Context) ([]*model.SignupCode, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// FindByID は指定IDのプロジェクトをフェーズ履歴付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Project, error)

	// Create はプロジェクトを作成する。
	// 同じIDが既に存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, project *model.Project) error

	// AdvancePhase は current_phase = from の場合に限り、current_phase = to への変更と
	// フェーズ履歴への {to, enteredAt} の追記を不可分に行う。
	// current_phase が from と異なる場合はUpdatePredicateFailedを返す。
	AdvancePhase(ctx context.Context, id string, from, to model.Phase, enteredAt time.Time) (UpdateResult, error)
}

// HealthChecker はストアの疎通確認インターフェース。/health エンドポイントで使用する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
