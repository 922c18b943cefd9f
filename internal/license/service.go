// Package license はライセンスコードの引き換えと発行のドメインロジックを提供する。
package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/hitoshi/atelier/internal/metrics"
	"github.com/hitoshi/atelier/internal/model"
	"github.com/hitoshi/atelier/internal/repository"
)

const (
	// GeneratedCodeLength は自動生成するライセンスコードの長さ。
	GeneratedCodeLength = 12
	// MaxCodeLength は明示指定できるライセンスコードの最大長。
	MaxCodeLength = 64

	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxGenerateTrials = 3
)

// IssueRequest はライセンスコード発行の入力。
// Codeが空の場合は自動生成する。
type IssueRequest struct {
	Code      string
	Email     *string
	PaymentID *string
}

// Service はライセンスコードのサービス層。
// 状態を持たず、単一インスタンスを全リクエストで共有する。
// 引き換えの一意性はリポジトリの条件付き更新のみで保証し、再試行は行わない。
type Service struct {
	repo         repository.SignupCodeRepository
	metrics      metrics.MetricsCollector
	now          func() time.Time
	generateCode func() (string, error)
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(repo repository.SignupCodeRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		repo:         repo,
		metrics:      collector,
		now:          time.Now,
		generateCode: GenerateCode,
	}
}

// Redeem はライセンスコードを引き換える。
//
// 未使用のコードに対する同時実行の引き換えは、ちょうど1件だけが成功し、
// 残りはすべてLICENSE_ALREADY_USEDとなる。
func (s *Service) Redeem(ctx context.Context, code string) (*model.RedemptionResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.metrics.RecordRedemption(metrics.OutcomeInvalidInput)
		return nil, model.NewInvalidInputError("ライセンスキーが指定されていません")
	}
	log := slog.With(slog.String("code_prefix", MaskCode(code)))

	start := time.Now()
	current, err := s.repo.FindByCode(ctx, code)
	s.metrics.RecordStoreOperation("find_signup_code", time.Since(start))
	if err != nil {
		s.metrics.RecordRedemption(metrics.OutcomeStoreError)
		log.Error("ライセンスコードの取得に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError(err)
	}
	if current == nil {
		s.metrics.RecordRedemption(metrics.OutcomeNotFound)
		log.Info("存在しないライセンスコードの引き換え要求")
		return nil, model.NewLicenseNotFoundError()
	}
	if current.Used {
		s.metrics.RecordRedemption(metrics.OutcomeAlreadyUsed)
		log.Info("使用済みライセンスコードの引き換え要求")
		return nil, model.NewLicenseAlreadyUsedError()
	}

	start = time.Now()
	result, err := s.repo.MarkUsed(ctx, code, s.now().UTC())
	s.metrics.RecordStoreOperation("mark_signup_code_used", time.Since(start))
	if err != nil {
		s.metrics.RecordRedemption(metrics.OutcomeStoreError)
		log.Error("ライセンスコードの更新に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError(err)
	}

	switch result {
	case repository.UpdateCommitted:
		s.metrics.RecordRedemption(metrics.OutcomeSuccess)
		log.Info("ライセンスコードを引き換えました")
		return &model.RedemptionResult{
			Success:   true,
			Email:     current.Email,
			PaymentID: current.PaymentID,
		}, nil
	case repository.UpdatePredicateFailed:
		// 読み取り後に他のリクエストが先にコミットした
		s.metrics.RecordRedemption(metrics.OutcomeAlreadyUsed)
		log.Info("同時実行の引き換えに競合しました")
		return nil, model.NewLicenseAlreadyUsedError()
	case repository.UpdateNotFound:
		s.metrics.RecordRedemption(metrics.OutcomeNotFound)
		return nil, model.NewLicenseNotFoundError()
	default:
		s.metrics.RecordRedemption(metrics.OutcomeStoreError)
		return nil, model.NewStoreUnavailableError(fmt.Errorf("unexpected update result: %v", result))
	}
}

// Issue は未使用のライセンスコードを発行する。
// 明示指定したコードが既に存在する場合はLICENSE_CODE_CONFLICTを返す。
// 自動生成したコードが衝突した場合は生成し直す。
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*model.SignupCode, error) {
	code := strings.TrimSpace(req.Code)
	if len(code) > MaxCodeLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("ライセンスキーは%d文字以内で指定してください", MaxCodeLength))
	}
	if strings.ContainsAny(code, " \t\r\n") {
		return nil, model.NewInvalidInputError("ライセンスキーに空白は使用できません")
	}

	newCode := func(c string) *model.SignupCode {
		return &model.SignupCode{
			Code:      c,
			Email:     trimmedOrNil(req.Email),
			PaymentID: trimmedOrNil(req.PaymentID),
			CreatedAt: s.now().UTC(),
		}
	}

	if code != "" {
		issued := newCode(code)
		if err := s.create(ctx, issued); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return nil, model.NewLicenseCodeConflictError()
			}
			return nil, model.NewStoreUnavailableError(err)
		}
		slog.Info("ライセンスコードを発行しました", slog.String("code_prefix", MaskCode(code)))
		return issued, nil
	}

	for trial := 0; trial < maxGenerateTrials; trial++ {
		generated, err := s.generateCode()
		if err != nil {
			return nil, fmt.Errorf("ライセンスコードの生成に失敗しました: %w", err)
		}

		issued := newCode(generated)
		err = s.create(ctx, issued)
		if err == nil {
			slog.Info("ライセンスコードを発行しました", slog.String("code_prefix", MaskCode(generated)))
			return issued, nil
		}
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, model.NewStoreUnavailableError(err)
		}
		slog.Warn("生成したライセンスコードが衝突しました", slog.Int("trial", trial+1))
	}

	return nil, model.NewLicenseCodeConflictError()
}

// List は全ライセンスコードを作成日時の降順で返す。
func (s *Service) List(ctx context.Context) ([]*model.SignupCode, error) {
	start := time.Now()
	codes, err := s.repo.List(ctx)
	s.metrics.RecordStoreOperation("list_signup_codes", time.Since(start))
	if err != nil {
		slog.Error("ライセンスコード一覧の取得に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewStoreUnavailableError(err)
	}
	return codes, nil
}

func (s *Service) create(ctx context.Context, c *model.SignupCode) error {
	start := time.Now()
	err := s.repo.Create(ctx, c)
	s.metrics.RecordStoreOperation("create_signup_code", time.Since(start))
	return err
}

// GenerateCode は英大文字と数字からなるランダムなライセンスコードを生成する。
func GenerateCode() (string, error) {
	var b strings.Builder
	b.Grow(GeneratedCodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < GeneratedCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// MaskCode はログ出力用にライセンスコードの先頭3文字以外を伏せる。
func MaskCode(code string) string {
	const visible = 3
	if len(code) <= visible {
		return strings.Repeat("*", len(code))
	}
	return code[:visible] + strings.Repeat("*", len(code)-visible)
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
