package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// PostgresSignupCodeRepo はPostgreSQLを使用したライセンスコードリポジトリ。
type PostgresSignupCodeRepo struct {
	db *sql.DB
}

// NewPostgresSignupCodeRepo はPostgresSignupCodeRepoを生成する。
func NewPostgresSignupCodeRepo(db *sql.DB) *PostgresSignupCodeRepo {
	return &PostgresSignupCodeRepo{db: db}
}

// FindByCode は指定コードのライセンスコードを取得する。見つからない場合はnilを返す。
func (r *PostgresSignupCodeRepo) FindByCode(ctx context.Context, code string) (*model.SignupCode, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT code, used, used_at, email, payment_id, created_at
		 FROM signup_codes WHERE code = $1`,
		code,
	)

	c, err := scanSignupCode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ライセンスコードの取得に失敗しました: %w", err)
	}
	return c, nil
}

// Create はライセンスコードを作成する。
// ON CONFLICT DO NOTHINGで既存レコードを保護し、挿入されなかった場合はErrAlreadyExistsを返す。
func (r *PostgresSignupCodeRepo) Create(ctx context.Context, c *model.SignupCode) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO signup_codes (code, used, used_at, email, payment_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO NOTHING`,
		c.Code, c.Used, nullTime(c.UsedAt), nullString(c.Email), nullString(c.PaymentID), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ライセンスコードの作成に失敗しました: %w", err)
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

// MarkUsed は used = false の場合に限りライセンスコードを使用済みにする。
// 述語とミューテーションを1つのUPDATE文で評価するため、同時実行時は行ロックにより
// 1件だけがコミットされ、他はWHERE句の再評価で0件更新となる。
func (r *PostgresSignupCodeRepo) MarkUsed(ctx context.Context, code string, usedAt time.Time) (UpdateResult, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE signup_codes SET used = true, used_at = $2
		 WHERE code = $1 AND used = false`,
		code, usedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("ライセンスコードの更新に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return UpdateCommitted, nil
	}

	// 0件更新: 述語不成立か未存在かを判別する（ライセンスコードは削除されない）
	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM signup_codes WHERE code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("ライセンスコードの存在確認に失敗しました: %w", err)
	}
	if !exists {
		return UpdateNotFound, nil
	}
	return UpdatePredicateFailed, nil
}

// List は全ライセンスコードを作成日時の降順で返す。
func (r *PostgresSignupCodeRepo) List(ctx context.Context) ([]*model.SignupCode, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, used, used_at, email, payment_id, created_at
		 FROM signup_codes ORDER BY created_at DESC, code ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ライセンスコード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	codes := []*model.SignupCode{}
	for rows.Next() {
		c, err := scanSignupCode(rows)
		if err != nil {
			return nil, fmt.Errorf("ライセンスコードのスキャンに失敗しました: %w", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ライセンスコード一覧の読み取りに失敗しました: %w", err)
	}

	return codes, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignupCode(s rowScanner) (*model.SignupCode, error) {
	c := &model.SignupCode{}
	var usedAt sql.NullTime
	var email, paymentID sql.NullString

	if err := s.Scan(&c.Code, &c.Used, &usedAt, &email, &paymentID, &c.CreatedAt); err != nil {
		return nil, err
	}

	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	if email.Valid {
		c.Email = &email.String
	}
	if paymentID.Valid {
		c.PaymentID = &paymentID.String
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ SignupCodeRepository = (*PostgresSignupCodeRepo)(nil)
