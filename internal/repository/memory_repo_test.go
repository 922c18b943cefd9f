package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/atelier/internal/model"
)

func TestMemorySignupCodeRepo_Contract(t *testing.T) {
	testSignupCodeRepoContract(t, NewMemorySignupCodeRepo())
}

func TestMemoryProjectRepo_Contract(t *testing.T) {
	testProjectRepoContract(t, NewMemoryProjectRepo())
}

// 返却値を書き換えても保存済みのレコードに影響しないこと
func TestMemorySignupCodeRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemorySignupCodeRepo()
	ctx := context.Background()
	if err := repo.Create(ctx, &model.SignupCode{Code: "ABC123", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := repo.FindByCode(ctx, "ABC123")
	got.Used = true

	again, _ := repo.FindByCode(ctx, "ABC123")
	if again.Used {
		t.Error("mutation of returned record leaked into the store")
	}
}

func TestMemoryProjectRepo_ReturnsCopies(t *testing.T) {
	repo := NewMemoryProjectRepo()
	ctx := context.Background()
	if err := repo.Create(ctx, model.NewProject("p1", "user-1", time.Now())); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, _ := repo.FindByID(ctx, "p1")
	got.PhaseHistory = append(got.PhaseHistory, model.PhaseEntry{Phase: model.PhaseDesign})

	again, _ := repo.FindByID(ctx, "p1")
	if len(again.PhaseHistory) != 0 {
		t.Error("mutation of returned history leaked into the store")
	}
}

// 同時刻に作成されたコードはコードの昇順で並ぶこと
func TestMemorySignupCodeRepo_List_TieBreak(t *testing.T) {
	repo := NewMemorySignupCodeRepo()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, code := range []string{"CCC", "AAA", "BBB"} {
		if err := repo.Create(ctx, &model.SignupCode{Code: code, CreatedAt: at}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	codes, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"AAA", "BBB", "CCC"}
	for i, c := range codes {
		if c.Code != want[i] {
			t.Errorf("codes[%d] = %s, want %s", i, c.Code, want[i])
		}
	}
}

// キャンセル済みのコンテキストではストアに触れずエラーを返すこと
func TestMemoryRepos_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	codes := NewMemorySignupCodeRepo()
	if _, err := codes.MarkUsed(ctx, "ABC123", time.Now()); err == nil {
		t.Error("MarkUsed() with canceled context: expected error")
	}

	projects := NewMemoryProjectRepo()
	if _, err := projects.AdvancePhase(ctx, "p1", model.PhaseDiscovery, model.PhaseDesign, time.Now()); err == nil {
		t.Error("AdvancePhase() with canceled context: expected error")
	}
	if err := projects.PingContext(ctx); err == nil {
		t.Error("PingContext() with canceled context: expected error")
	}
}
