// Package project はプロジェクトのフェーズ進行のドメインロジックを提供する。
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
)

// MaxIDLength はプロジェクトIDの最大長。
const MaxIDLength = 64

// CreateProjectRequest はプロジェクト作成の入力。
// IDが空の場合はUUIDを採番する。
type CreateProjectRequest struct {
	ID      string
	OwnerID string
}

// AdvanceResult はフェーズ進行の結果を表す。
type AdvanceResult struct {
	Project *model.Project
	// Previous は進行前のフェーズ。
	Previous model.Phase
	// Transitioned はこの呼び出しで遷移がコミットされたかどうか。
	// 終端フェーズでの呼び出しではfalseとなる。
	Transitioned bool
}

// Service はフェーズ進行エンジン。
// 状態を持たず、同一プロジェクトへの同時進行はリポジトリの条件付き更新で直列化する。
type Service struct {
	repo    repository.ProjectRepository
	metrics metrics.MetricsCollector
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(repo repository.ProjectRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		repo:    repo,
		metrics: collector,
		now:     time.Now,
		backoff: CalculateBackoff,
	}
}

// Create は初期フェーズ・空の履歴でプロジェクトを作成する。
func (s *Service) Create(ctx context.Context, req CreateProjectRequest) (*model.Project, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, model.NewInvalidInputError("オーナーが指定されていません")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > MaxIDLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("プロジェクトIDは%d文字以内で指定してください", MaxIDLength))
	}

	p := model.NewProject(id, ownerID, s.now().UTC())

	start := time.Now()
	err := s.repo.Create(ctx, p)
	s.metrics.RecordStoreOperation("create_project", time.Since(start))
	if errors.Is(err, repository.ErrAlreadyExists) {
		return nil, model.NewProjectAlreadyExistsError(id)
	}
	if err != nil {
		slog.Error("プロジェクトの作成に失敗しました",
			slog.String("project_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError(err)
	}

	slog.Info("プロジェクトを作成しました",
		slog.String("project_id", id),
		slog.String("owner_id", ownerID),
	)
	return p, nil
}

// Get はプロジェクトをフェーズ履歴付きで取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	return p, nil
}

// Advance はプロジェクトを次のフェーズへ1段階だけ進める。
//
// 終端フェーズでは何も変更せず成功を返す。読み取り後に他の呼び出しが先に
// 進めていた場合はCONCURRENT_MODIFICATIONを返し、再試行は呼び出し元に委ねる。
func (s *Service) Advance(ctx context.Context, id string) (*AdvanceResult, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		s.metrics.RecordPhaseAdvance(metrics.OutcomeStoreError)
		return nil, err
	}
	if p == nil {
		s.metrics.RecordPhaseAdvance(metrics.OutcomeNotFound)
		return nil, model.NewProjectNotFoundError(id)
	}

	current := p.CurrentPhase
	if !current.Valid() {
		s.metrics.RecordPhaseAdvance(metrics.OutcomeInvalidPhase)
		slog.Error("プロジェクトのフェーズが不正です",
			slog.String("project_id", id),
			slog.String("phase", string(current)),
		)
		return nil, model.NewInvalidPhaseStateError(id, current)
	}

	next, ok := current.Next()
	if !ok {
		s.metrics.RecordPhaseAdvance(metrics.OutcomeTerminal)
		return &AdvanceResult{Project: p, Previous: current}, nil
	}

	enteredAt := s.now().UTC()
	start := time.Now()
	result, err := s.repo.AdvancePhase(ctx, id, current, next, enteredAt)
	s.metrics.RecordStoreOperation("advance_phase", time.Since(start))
	if err != nil {
		s.metrics.RecordPhaseAdvance(metrics.OutcomeStoreError)
		slog.Error("フェーズの更新に失敗しました",
			slog.String("project_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError(err)
	}

	switch result {
	case repository.UpdateCommitted:
		p.CurrentPhase = next
		p.PhaseHistory = append(p.PhaseHistory, model.PhaseEntry{Phase: next, EnteredAt: enteredAt})
		p.UpdatedAt = enteredAt

		s.metrics.RecordPhaseAdvance(metrics.OutcomeSuccess)
		s.metrics.RecordPhaseTransition(string(next))
		slog.Info("フェーズを進めました",
			slog.String("project_id", id),
			slog.String("from", string(current)),
			slog.String("to", string(next)),
		)
		return &AdvanceResult{Project: p, Previous: current, Transitioned: true}, nil
	case repository.UpdatePredicateFailed:
		s.metrics.RecordPhaseAdvance(metrics.OutcomeConcurrentModification)
		slog.Info("フェーズ進行が同時更新と競合しました",
			slog.String("project_id", id),
			slog.String("from", string(current)),
		)
		return nil, model.NewConcurrentModificationError(id)
	case repository.UpdateNotFound:
		s.metrics.RecordPhaseAdvance(metrics.OutcomeNotFound)
		return nil, model.NewProjectNotFoundError(id)
	default:
		s.metrics.RecordPhaseAdvance(metrics.OutcomeStoreError)
		return nil, model.NewStoreUnavailableError(fmt.Errorf("unexpected update result: %v", result))
	}
}

// AdvanceWithRetry はCONCURRENT_MODIFICATIONの場合に限り、最大maxAttempts回までAdvanceを再試行する。
// 再試行のたびに最新の状態から1段階進めるため、競合に負けた呼び出しも最終的に1段階進める。
func (s *Service) AdvanceWithRetry(ctx context.Context, id string, maxAttempts int) (*AdvanceResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(s.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("フェーズ進行の再試行が中断されました: %w", ctx.Err())
			case <-timer.C:
			}
		}

		res, err := s.Advance(ctx, id)
		if err == nil {
			return res, nil
		}
		if !model.HasCode(err, model.ErrCodeConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}

	slog.Warn("フェーズ進行の再試行上限に達しました",
		slog.String("project_id", id),
		slog.Int("attempts", maxAttempts),
	)
	return nil, lastErr
}

func (s *Service) find(ctx context.Context, id string) (*model.Project, error) {
	start := time.Now()
	p, err := s.repo.FindByID(ctx, id)
	s.metrics.RecordStoreOperation("find_project", time.Since(start))
	if err != nil {
		slog.Error("プロジェクトの取得に失敗しました",
			slog.String("project_id", id),
			slog.String("error", err.Error()),
		)
		return nil, model.NewStoreUnavailableError(err)
	}
	return p, nil
}
