// Package workflow は外部連携から通知されるイベントをフェーズ進行と通知に結び付ける。
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/notify"
	"github.com/hitoshi/atelier/internal/project"
)

const (
	// DefaultMaxAdvanceAttempts はフェーズ進行の既定の最大試行回数。
	DefaultMaxAdvanceAttempts = 3
	// maxSubjectRunes は通知本文に含める件名の最大文字数。
	maxSubjectRunes = 80
)

// ProjectEngine はワークフローが利用するフェーズ進行エンジンのインターフェース。
type ProjectEngine interface {
	Get(ctx context.Context, id string) (*model.Project, error)
	AdvanceWithRetry(ctx context.Context, id string, maxAttempts int) (*project.AdvanceResult, error)
}

// Service はワークフローイベントのサービス層。
type Service struct {
	engine      ProjectEngine
	notifier    notify.Notifier
	maxAttempts int
}

// NewService はServiceの新しいインスタンスを生成する。
// maxAttemptsが1未満の場合はDefaultMaxAdvanceAttemptsを使用する。
func NewService(engine ProjectEngine, notifier notify.Notifier, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAdvanceAttempts
	}
	return &Service{
		engine:      engine,
		notifier:    notifier,
		maxAttempts: maxAttempts,
	}
}

// Get はユーザーが所有するプロジェクトを取得する。
// 他のユーザーのプロジェクトは存在しないものとして扱う。
func (s *Service) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	p, err := s.engine.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != userID {
		return nil, model.NewProjectNotFoundError(projectID)
	}
	return p, nil
}

// Advance はユーザーが所有するプロジェクトを1段階進める。
// 遷移がコミットされた場合のみオーナーに通知する。
func (s *Service) Advance(ctx context.Context, userID, projectID string) (*project.AdvanceResult, error) {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return nil, err
	}

	res, err := s.engine.AdvanceWithRetry(ctx, projectID, s.maxAttempts)
	if err != nil {
		return nil, err
	}

	if res.Transitioned {
		s.notifier.Notify(ctx, res.Project.OwnerID, phaseMessage(res))
	}
	return res, nil
}

// OnMessageSent はメッセージ送信イベントを処理する。
// 送信はプロジェクトを次のフェーズへ進める合図として扱う。
func (s *Service) OnMessageSent(ctx context.Context, userID, projectID string) (*project.AdvanceResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, model.NewInvalidInputError("projectIdが指定されていません")
	}

	res, err := s.Advance(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	slog.Info("メッセージ送信イベントを処理しました",
		slog.String("project_id", projectID),
		slog.String("phase", string(res.Project.CurrentPhase)),
		slog.Bool("transitioned", res.Transitioned),
	)
	return res, nil
}

// OnDraftProduced は返信下書きの作成イベントを処理し、ユーザーに通知する。
func (s *Service) OnDraftProduced(ctx context.Context, userID, subject string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return model.NewInvalidInputError("subjectが指定されていません")
	}

	s.notifier.Notify(ctx, userID, fmt.Sprintf("返信の下書きが作成されました: %s", truncate(subject, maxSubjectRunes)))
	return nil
}

func phaseMessage(res *project.AdvanceResult) string {
	return fmt.Sprintf("プロジェクト %s が %s から %s に進みました",
		res.Project.ID, res.Previous, res.Project.CurrentPhase)
}

// truncate は文字列を最大maxRunes文字に切り詰める。
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "…"
}
