package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
// フェーズ履歴はproject_phase_historyテーブルに追記専用で保存する。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByID は指定IDのプロジェクトをフェーズ履歴付きで取得する。見つからない場合はnilを返す。
// プロジェクト行と履歴を同一スナップショットから読むため、REPEATABLE READの読み取り専用
// トランザクションを使用する。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p := &model.Project{}
	var phase string
	err = tx.QueryRowContext(ctx,
		`SELECT id, owner_id, current_phase, created_at, updated_at
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.OwnerID, &phase, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	// 未知の値もそのまま返し、検証はサービス層で行う
	p.CurrentPhase = model.Phase(phase)

	rows, err := tx.QueryContext(ctx,
		`SELECT phase, entered_at FROM project_phase_history
		 WHERE project_id = $1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("フェーズ履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	p.PhaseHistory = []model.PhaseEntry{}
	for rows.Next() {
		var entry model.PhaseEntry
		var entryPhase string
		if err := rows.Scan(&entryPhase, &entry.EnteredAt); err != nil {
			return nil, fmt.Errorf("フェーズ履歴のスキャンに失敗しました: %w", err)
		}
		entry.Phase = model.Phase(entryPhase)
		p.PhaseHistory = append(p.PhaseHistory, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フェーズ履歴の読み取りに失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return p, nil
}

// Create はプロジェクトを作成する。
// 作成時点の履歴は空であることを前提とし、projectsテーブルのみに挿入する。
func (r *PostgresProjectRepo) Create(ctx context.Context, p *model.Project) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, current_phase, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.OwnerID, string(p.CurrentPhase), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// AdvancePhase はフェーズの条件付き更新と履歴の追記を同一トランザクションで行う。
// UPDATEのWHERE句で遷移元フェーズを固定するため、同じフェーズを読んだ同時実行の
// 呼び出しのうちコミットされるのは1件のみとなる。
func (r *PostgresProjectRepo) AdvancePhase(ctx context.Context, id string, from, to model.Phase, enteredAt time.Time) (UpdateResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE projects SET current_phase = $3, updated_at = $4
		 WHERE id = $1 AND current_phase = $2`,
		id, string(from), string(to), enteredAt,
	)
	if err != nil {
		return 0, fmt.Errorf("プロジェクトフェーズの更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`,
			id,
		).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("プロジェクトの存在確認に失敗しました: %w", err)
		}
		if !exists {
			return UpdateNotFound, nil
		}
		return UpdatePredicateFailed, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO project_phase_history (project_id, phase, entered_at)
		 VALUES ($1, $2, $3)`,
		id, string(to), enteredAt,
	)
	if err != nil {
		return 0, fmt.Errorf("フェーズ履歴の追記に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return UpdateCommitted, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
