package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

// MemorySignupCodeRepo はプロセス内メモリを使用したライセンスコードリポジトリ。
// ローカル実行とテストで使用する。全操作はミューテックスで直列化される。
type MemorySignupCodeRepo struct {
	mu    sync.Mutex
	codes map[string]*model.SignupCode
}

// NewMemorySignupCodeRepo はMemorySignupCodeRepoを生成する。
func NewMemorySignupCodeRepo() *MemorySignupCodeRepo {
	return &MemorySignupCodeRepo{codes: make(map[string]*model.SignupCode)}
}

// FindByCode は指定コードのライセンスコードのコピーを返す。見つからない場合はnilを返す。
func (r *MemorySignupCodeRepo) FindByCode(ctx context.Context, code string) (*model.SignupCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.codes[code].Clone(), nil
}

// Create はライセンスコードを作成する。既に存在する場合はErrAlreadyExistsを返す。
func (r *MemorySignupCodeRepo) Create(ctx context.Context, c *model.SignupCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.codes[c.Code]; exists {
		return ErrAlreadyExists
	}
	r.codes[c.Code] = c.Clone()
	return nil
}

// MarkUsed は used = false の場合に限りライセンスコードを使用済みにする。
func (r *MemorySignupCodeRepo) MarkUsed(ctx context.Context, code string, usedAt time.Time) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.codes[code]
	if !exists {
		return UpdateNotFound, nil
	}
	if c.Used {
		return UpdatePredicateFailed, nil
	}
	t := usedAt
	c.Used = true
	c.UsedAt = &t
	return UpdateCommitted, nil
}

// List は全ライセンスコードを作成日時の降順で返す。
func (r *MemorySignupCodeRepo) List(ctx context.Context) ([]*model.SignupCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	codes := make([]*model.SignupCode, 0, len(r.codes))
	for _, c := range r.codes {
		codes = append(codes, c.Clone())
	}
	r.mu.Unlock()

	sortSignupCodesByCreatedAtDesc(codes)
	return codes, nil
}

// PingContext は常に成功する。
func (r *MemorySignupCodeRepo) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// sortSignupCodesByCreatedAtDesc は作成日時の降順、同時刻の場合はコードの昇順で並べ替える。
func sortSignupCodesByCreatedAtDesc(codes []*model.SignupCode) {
	sort.Slice(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.After(codes[j].CreatedAt)
		}
		return codes[i].Code < codes[j].Code
	})
}

// MemoryProjectRepo はプロセス内メモリを使用したプロジェクトリポジトリ。
type MemoryProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*model.Project
}

// NewMemoryProjectRepo はMemoryProjectRepoを生成する。
func NewMemoryProjectRepo() *MemoryProjectRepo {
	return &MemoryProjectRepo{projects: make(map[string]*model.Project)}
}

// FindByID は指定IDのプロジェクトのコピーを返す。見つからない場合はnilを返す。
func (r *MemoryProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.projects[id].Clone(), nil
}

// Create はプロジェクトを作成する。既に存在する場合はErrAlreadyExistsを返す。
func (r *MemoryProjectRepo) Create(ctx context.Context, p *model.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[p.ID]; exists {
		return ErrAlreadyExists
	}
	r.projects[p.ID] = p.Clone()
	return nil
}

// AdvancePhase は current_phase = from の場合に限りフェーズを進め、履歴に追記する。
func (r *MemoryProjectRepo) AdvancePhase(ctx context.Context, id string, from, to model.Phase, enteredAt time.Time) (UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.projects[id]
	if !exists {
		return UpdateNotFound, nil
	}
	if p.CurrentPhase != from {
		return UpdatePredicateFailed, nil
	}
	p.CurrentPhase = to
	p.PhaseHistory = append(p.PhaseHistory, model.PhaseEntry{Phase: to, EnteredAt: enteredAt})
	p.UpdatedAt = enteredAt
	return UpdateCommitted, nil
}

// PingContext は常に成功する。
func (r *MemoryProjectRepo) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// compile-time interface check
var (
	_ SignupCodeRepository = (*MemorySignupCodeRepo)(nil)
	_ ProjectRepository    = (*MemoryProjectRepo)(nil)
	_ HealthChecker        = (*MemorySignupCodeRepo)(nil)
)
