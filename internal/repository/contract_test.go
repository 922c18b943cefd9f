package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/atelier/internal/model"
)

// 各バックエンドに共通の振る舞いを検証するテストスイート。
// 永続ストアでも繰り返し実行できるよう、キーは毎回uuidで生成する。

func testSignupCodeRepoContract(t *testing.T, repo SignupCodeRepository) {
	ctx := context.Background()

	t.Run("未存在のコードはnilを返す", func(t *testing.T) {
		c, err := repo.FindByCode(ctx, "missing-"+uuid.NewString())
		if err != nil {
			t.Fatalf("FindByCode() error = %v", err)
		}
		if c != nil {
			t.Errorf("FindByCode() = %+v, want nil", c)
		}
	})

	t.Run("作成と取得", func(t *testing.T) {
		email := "buyer@example.com"
		code := &model.SignupCode{
			Code:      uuid.NewString(),
			Email:     &email,
			CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		}
		if err := repo.Create(ctx, code); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.FindByCode(ctx, code.Code)
		if err != nil {
			t.Fatalf("FindByCode() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindByCode() = nil, want record")
		}
		if got.Used || got.UsedAt != nil {
			t.Errorf("new code is used: %+v", got)
		}
		if got.Email == nil || *got.Email != email {
			t.Errorf("Email = %v, want %s", got.Email, email)
		}
		if got.PaymentID != nil {
			t.Errorf("PaymentID = %v, want nil", *got.PaymentID)
		}
	})

	t.Run("重複作成はErrAlreadyExists", func(t *testing.T) {
		code := &model.SignupCode{Code: uuid.NewString(), CreatedAt: time.Now().UTC()}
		if err := repo.Create(ctx, code); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		email := "other@example.com"
		dup := &model.SignupCode{Code: code.Code, Email: &email, CreatedAt: time.Now().UTC()}
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("Create() duplicate error = %v, want ErrAlreadyExists", err)
		}

		got, _ := repo.FindByCode(ctx, code.Code)
		if got.Email != nil {
			t.Error("duplicate Create overwrote existing record")
		}
	})

	t.Run("MarkUsedは一度だけコミットされる", func(t *testing.T) {
		code := &model.SignupCode{Code: uuid.NewString(), CreatedAt: time.Now().UTC()}
		if err := repo.Create(ctx, code); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		usedAt := time.Now().UTC().Truncate(time.Microsecond)
		res, err := repo.MarkUsed(ctx, code.Code, usedAt)
		if err != nil || res != UpdateCommitted {
			t.Fatalf("MarkUsed() = %v, %v, want committed", res, err)
		}
		res, err = repo.MarkUsed(ctx, code.Code, time.Now().UTC())
		if err != nil || res != UpdatePredicateFailed {
			t.Fatalf("second MarkUsed() = %v, %v, want predicate_failed", res, err)
		}

		got, _ := repo.FindByCode(ctx, code.Code)
		if !got.Used || got.UsedAt == nil {
			t.Fatalf("code not marked used: %+v", got)
		}
		if !got.UsedAt.Equal(usedAt) {
			t.Errorf("UsedAt = %v, want %v", got.UsedAt, usedAt)
		}
	})

	t.Run("未存在コードのMarkUsedはUpdateNotFound", func(t *testing.T) {
		res, err := repo.MarkUsed(ctx, "missing-"+uuid.NewString(), time.Now())
		if err != nil || res != UpdateNotFound {
			t.Errorf("MarkUsed() = %v, %v, want not_found", res, err)
		}
	})

	t.Run("同時MarkUsedで成功するのは1件のみ", func(t *testing.T) {
		code := &model.SignupCode{Code: uuid.NewString(), CreatedAt: time.Now().UTC()}
		if err := repo.Create(ctx, code); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		const n = 20
		results := make([]UpdateResult, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = repo.MarkUsed(ctx, code.Code, time.Now().UTC())
			}(i)
		}
		wg.Wait()

		committed := 0
		for i := range results {
			if errs[i] != nil {
				t.Fatalf("MarkUsed() error = %v", errs[i])
			}
			switch results[i] {
			case UpdateCommitted:
				committed++
			case UpdatePredicateFailed:
			default:
				t.Errorf("unexpected result %v", results[i])
			}
		}
		if committed != 1 {
			t.Errorf("committed = %d, want 1", committed)
		}
	})

	t.Run("一覧は作成日時の降順", func(t *testing.T) {
		base := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
		older := &model.SignupCode{Code: uuid.NewString(), CreatedAt: base}
		newer := &model.SignupCode{Code: uuid.NewString(), CreatedAt: base.Add(time.Minute)}
		for _, c := range []*model.SignupCode{older, newer} {
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}

		codes, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		olderIdx, newerIdx := -1, -1
		for i, c := range codes {
			switch c.Code {
			case older.Code:
				olderIdx = i
			case newer.Code:
				newerIdx = i
			}
		}
		if olderIdx < 0 || newerIdx < 0 {
			t.Fatalf("List() missing created codes (older=%d newer=%d)", olderIdx, newerIdx)
		}
		if newerIdx > olderIdx {
			t.Errorf("newer code listed after older code")
		}
	})
}

func testProjectRepoContract(t *testing.T, repo ProjectRepository) {
	ctx := context.Background()

	create := func(t *testing.T) *model.Project {
		t.Helper()
		p := model.NewProject(uuid.NewString(), "user-1", time.Now().UTC().Truncate(time.Microsecond))
		if err := repo.Create(ctx, p); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		return p
	}

	t.Run("作成直後はDISCOVERYで履歴は空", func(t *testing.T) {
		p := create(t)
		got, err := repo.FindByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got == nil {
			t.Fatal("FindByID() = nil")
		}
		if got.CurrentPhase != model.PhaseDiscovery {
			t.Errorf("CurrentPhase = %s, want DISCOVERY", got.CurrentPhase)
		}
		if len(got.PhaseHistory) != 0 {
			t.Errorf("len(PhaseHistory) = %d, want 0", len(got.PhaseHistory))
		}
		if got.OwnerID != "user-1" {
			t.Errorf("OwnerID = %s, want user-1", got.OwnerID)
		}
	})

	t.Run("未存在はnil", func(t *testing.T) {
		got, err := repo.FindByID(ctx, uuid.NewString())
		if err != nil || got != nil {
			t.Errorf("FindByID() = %+v, %v, want nil, nil", got, err)
		}
	})

	t.Run("重複作成はErrAlreadyExists", func(t *testing.T) {
		p := create(t)
		if err := repo.Create(ctx, p); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("Create() duplicate error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("AdvancePhaseはフェーズと履歴を同時に更新する", func(t *testing.T) {
		p := create(t)
		at := time.Now().UTC().Truncate(time.Microsecond)

		res, err := repo.AdvancePhase(ctx, p.ID, model.PhaseDiscovery, model.PhaseDesign, at)
		if err != nil || res != UpdateCommitted {
			t.Fatalf("AdvancePhase() = %v, %v, want committed", res, err)
		}

		got, _ := repo.FindByID(ctx, p.ID)
		if got.CurrentPhase != model.PhaseDesign {
			t.Errorf("CurrentPhase = %s, want DESIGN", got.CurrentPhase)
		}
		if len(got.PhaseHistory) != 1 || got.PhaseHistory[0].Phase != model.PhaseDesign {
			t.Fatalf("PhaseHistory = %+v, want [DESIGN]", got.PhaseHistory)
		}
		if !got.PhaseHistory[0].EnteredAt.Equal(at) {
			t.Errorf("EnteredAt = %v, want %v", got.PhaseHistory[0].EnteredAt, at)
		}
	})

	t.Run("遷移元が一致しない場合はUpdatePredicateFailed", func(t *testing.T) {
		p := create(t)
		res, err := repo.AdvancePhase(ctx, p.ID, model.PhaseDesign, model.PhaseRevisions, time.Now())
		if err != nil || res != UpdatePredicateFailed {
			t.Fatalf("AdvancePhase() = %v, %v, want predicate_failed", res, err)
		}
		got, _ := repo.FindByID(ctx, p.ID)
		if got.CurrentPhase != model.PhaseDiscovery || len(got.PhaseHistory) != 0 {
			t.Errorf("project mutated on failed predicate: %+v", got)
		}
	})

	t.Run("未存在のAdvancePhaseはUpdateNotFound", func(t *testing.T) {
		res, err := repo.AdvancePhase(ctx, uuid.NewString(), model.PhaseDiscovery, model.PhaseDesign, time.Now())
		if err != nil || res != UpdateNotFound {
			t.Errorf("AdvancePhase() = %v, %v, want not_found", res, err)
		}
	})

	t.Run("同時AdvancePhaseで遷移するのは1件のみ", func(t *testing.T) {
		p := create(t)

		const n = 10
		results := make([]UpdateResult, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = repo.AdvancePhase(ctx, p.ID, model.PhaseDiscovery, model.PhaseDesign, time.Now().UTC())
			}(i)
		}
		wg.Wait()

		committed := 0
		for i := range results {
			if errs[i] != nil {
				t.Fatalf("AdvancePhase() error = %v", errs[i])
			}
			if results[i] == UpdateCommitted {
				committed++
			}
		}
		if committed != 1 {
			t.Errorf("committed = %d, want 1", committed)
		}

		got, _ := repo.FindByID(ctx, p.ID)
		if len(got.PhaseHistory) != 1 {
			t.Errorf("len(PhaseHistory) = %d, want 1", len(got.PhaseHistory))
		}
	})
}
