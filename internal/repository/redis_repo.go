package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hitoshi/atelier/internal/model"
)

// DefaultRedisKeyPrefix はRedisキーの既定プレフィックス。
const DefaultRedisKeyPrefix = "atelier:"

// watchUpdate はWATCH/MULTI/EXECによる楽観的並行性制御でkeyを更新する。
// applyは現在値（未存在の場合はnil）を受け取り、結果と書き込み処理を返す。
// 書き込み処理がnilの場合は何も書き込まない。
// WATCH中に他のクライアントがkeyを書き換えた場合（redis.TxFailedErr）は、
// 先にコミットした側が勝ったとみなしUpdatePredicateFailedを返す。
func watchUpdate(
	ctx context.Context,
	client redis.UniversalClient,
	key string,
	apply func(current []byte) (UpdateResult, func(pipe redis.Pipeliner), error),
) (UpdateResult, error) {
	var result UpdateResult

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			current = nil
		} else if err != nil {
			return err
		}

		res, write, err := apply(current)
		if err != nil {
			return err
		}
		result = res
		if write == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}

	err := client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return UpdatePredicateFailed, nil
	}
	if err != nil {
		return 0, err
	}
	return result, nil
}

// redisSignupCodeDoc はRedisに保存するライセンスコードのJSONドキュメント。
type redisSignupCodeDoc struct {
	Code      string     `json:"code"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	Email     *string    `json:"email,omitempty"`
	PaymentID *string    `json:"paymentId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (d *redisSignupCodeDoc) toModel() *model.SignupCode {
	return &model.SignupCode{
		Code:      d.Code,
		Used:      d.Used,
		UsedAt:    d.UsedAt,
		Email:     d.Email,
		PaymentID: d.PaymentID,
		CreatedAt: d.CreatedAt,
	}
}

func signupCodeDocFromModel(c *model.SignupCode) *redisSignupCodeDoc {
	cp := c.Clone()
	return &redisSignupCodeDoc{
		Code:      cp.Code,
		Used:      cp.Used,
		UsedAt:    cp.UsedAt,
		Email:     cp.Email,
		PaymentID: cp.PaymentID,
		CreatedAt: cp.CreatedAt,
	}
}

// RedisSignupCodeRepo はRedisを使用したライセンスコードリポジトリ。
// ドキュメントは "<prefix>signup_code:<code>" にJSONで保存し、
// 一覧用に作成日時をスコアとするソート済みセットを併せて管理する。
type RedisSignupCodeRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSignupCodeRepo はRedisSignupCodeRepoを生成する。
// prefixが空の場合はDefaultRedisKeyPrefixを使用する。
func NewRedisSignupCodeRepo(client redis.UniversalClient, prefix string) *RedisSignupCodeRepo {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisSignupCodeRepo{client: client, prefix: prefix}
}

func (r *RedisSignupCodeRepo) key(code string) string {
	return r.prefix + "signup_code:" + code
}

func (r *RedisSignupCodeRepo) indexKey() string {
	return r.prefix + "signup_codes:by_created_at"
}

// FindByCode は指定コードのライセンスコードを取得する。見つからない場合はnilを返す。
func (r *RedisSignupCodeRepo) FindByCode(ctx context.Context, code string) (*model.SignupCode, error) {
	raw, err := r.client.Get(ctx, r.key(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ライセンスコードの取得に失敗しました: %w", err)
	}

	var doc redisSignupCodeDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ライセンスコードのデコードに失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// Create はライセンスコードを作成する。既に存在する場合はErrAlreadyExistsを返す。
func (r *RedisSignupCodeRepo) Create(ctx context.Context, c *model.SignupCode) error {
	raw, err := json.Marshal(signupCodeDocFromModel(c))
	if err != nil {
		return fmt.Errorf("ライセンスコードのエンコードに失敗しました: %w", err)
	}

	key := r.key(c.Code)
	result, err := watchUpdate(ctx, r.client, key, func(current []byte) (UpdateResult, func(redis.Pipeliner), error) {
		if current != nil {
			return UpdatePredicateFailed, nil, nil
		}
		return UpdateCommitted, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, r.indexKey(), &redis.Z{
				Score:  float64(c.CreatedAt.UnixMicro()),
				Member: c.Code,
			})
		}, nil
	})
	if err != nil {
		return fmt.Errorf("ライセンスコードの作成に失敗しました: %w", err)
	}
	if result != UpdateCommitted {
		return ErrAlreadyExists
	}
	return nil
}

// MarkUsed は used = false の場合に限りライセンスコードを使用済みにする。
func (r *RedisSignupCodeRepo) MarkUsed(ctx context.Context, code string, usedAt time.Time) (UpdateResult, error) {
	key := r.key(code)
	result, err := watchUpdate(ctx, r.client, key, func(current []byte) (UpdateResult, func(redis.Pipeliner), error) {
		if current == nil {
			return UpdateNotFound, nil, nil
		}

		var doc redisSignupCodeDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return 0, nil, fmt.Errorf("ライセンスコードのデコードに失敗しました: %w", err)
		}
		if doc.Used {
			return UpdatePredicateFailed, nil, nil
		}

		t := usedAt
		doc.Used = true
		doc.UsedAt = &t
		next, err := json.Marshal(&doc)
		if err != nil {
			return 0, nil, fmt.Errorf("ライセンスコードのエンコードに失敗しました: %w", err)
		}
		return UpdateCommitted, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, key, next, 0)
		}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("ライセンスコードの更新に失敗しました: %w", err)
	}
	return result, nil
}

// List は全ライセンスコードを作成日時の降順で返す。
func (r *RedisSignupCodeRepo) List(ctx context.Context) ([]*model.SignupCode, error) {
	members, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ライセンスコード一覧の取得に失敗しました: %w", err)
	}
	if len(members) == 0 {
		return []*model.SignupCode{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.key(m)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ライセンスコードの一括取得に失敗しました: %w", err)
	}

	codes := make([]*model.SignupCode, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// インデックスにのみ残っているエントリは無視する
			continue
		}
		var doc redisSignupCodeDoc
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("ライセンスコードのデコードに失敗しました: %w", err)
		}
		codes = append(codes, doc.toModel())
	}

	sortSignupCodesByCreatedAtDesc(codes)
	return codes, nil
}

// PingContext はRedisへの疎通を確認する。
func (r *RedisSignupCodeRepo) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// redisPhaseEntry はRedisに保存するフェーズ履歴エントリ。
type redisPhaseEntry struct {
	Phase     string    `json:"phase"`
	EnteredAt time.Time `json:"enteredAt"`
}

// redisProjectDoc はRedisに保存するプロジェクトのJSONドキュメント。
// 履歴はドキュメント内に保持するため、フェーズと履歴は常に同時に書き換わる。
type redisProjectDoc struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId"`
	CurrentPhase string            `json:"currentPhase"`
	PhaseHistory []redisPhaseEntry `json:"phaseHistory"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func (d *redisProjectDoc) toModel() *model.Project {
	p := &model.Project{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		CurrentPhase: model.Phase(d.CurrentPhase),
		PhaseHistory: make([]model.PhaseEntry, len(d.PhaseHistory)),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for i, e := range d.PhaseHistory {
		p.PhaseHistory[i] = model.PhaseEntry{Phase: model.Phase(e.Phase), EnteredAt: e.EnteredAt}
	}
	return p
}

func projectDocFromModel(p *model.Project) *redisProjectDoc {
	d := &redisProjectDoc{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		CurrentPhase: string(p.CurrentPhase),
		PhaseHistory: make([]redisPhaseEntry, len(p.PhaseHistory)),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for i, e := range p.PhaseHistory {
		d.PhaseHistory[i] = redisPhaseEntry{Phase: string(e.Phase), EnteredAt: e.EnteredAt}
	}
	return d
}

// RedisProjectRepo はRedisを使用したプロジェクトリポジトリ。
type RedisProjectRepo struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisProjectRepo はRedisProjectRepoを生成する。
func NewRedisProjectRepo(client redis.UniversalClient, prefix string) *RedisProjectRepo {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisProjectRepo{client: client, prefix: prefix}
}

func (r *RedisProjectRepo) key(id string) string {
	return r.prefix + "project:" + id
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *RedisProjectRepo) FindByID(ctx context.Context, id string) (*model.Project, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}

	var doc redisProjectDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("プロジェクトのデコードに失敗しました: %w", err)
	}
	return doc.toModel(), nil
}

// Create はプロジェクトを作成する。既に存在する場合はErrAlreadyExistsを返す。
func (r *RedisProjectRepo) Create(ctx context.Context, p *model.Project) error {
	raw, err := json.Marshal(projectDocFromModel(p))
	if err != nil {
		return fmt.Errorf("プロジェクトのエンコードに失敗しました: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(p.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// AdvancePhase は current_phase = from の場合に限りフェーズを進め、履歴に追記する。
func (r *RedisProjectRepo) AdvancePhase(ctx context.Context, id string, from, to model.Phase, enteredAt time.Time) (UpdateResult, error) {
	key := r.key(id)
	result, err := watchUpdate(ctx, r.client, key, func(current []byte) (UpdateResult, func(redis.Pipeliner), error) {
		if current == nil {
			return UpdateNotFound, nil, nil
		}

		var doc redisProjectDoc
		if err := json.Unmarshal(current, &doc); err != nil {
			return 0, nil, fmt.Errorf("プロジェクトのデコードに失敗しました: %w", err)
		}
		if doc.CurrentPhase != string(from) {
			return UpdatePredicateFailed, nil, nil
		}

		doc.CurrentPhase = string(to)
		doc.PhaseHistory = append(doc.PhaseHistory, redisPhaseEntry{Phase: string(to), EnteredAt: enteredAt})
		doc.UpdatedAt = enteredAt
		next, err := json.Marshal(&doc)
		if err != nil {
			return 0, nil, fmt.Errorf("プロジェクトのエンコードに失敗しました: %w", err)
		}
		return UpdateCommitted, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, key, next, 0)
		}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("プロジェクトフェーズの更新に失敗しました: %w", err)
	}
	return result, nil
}

// PingContext はRedisへの疎通を確認する。
func (r *RedisProjectRepo) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// compile-time interface check
var (
	_ SignupCodeRepository = (*RedisSignupCodeRepo)(nil)
	_ ProjectRepository    = (*RedisProjectRepo)(nil)
	_ HealthChecker        = (*RedisProjectRepo)(nil)
)
