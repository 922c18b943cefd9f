// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Phase はプロジェクトの進行フェーズを表す。
// 値は固定順序を持つ閉じた列挙であり、DELIVERYが終端となる。
type Phase string

const (
	// PhaseDiscovery はヒアリング段階。プロジェクト作成時の初期フェーズ。
	PhaseDiscovery Phase = "DISCOVERY"
	// PhaseDesign はデザイン段階。
	PhaseDesign Phase = "DESIGN"
	// PhaseRevisions は修正対応段階。
	PhaseRevisions Phase = "REVISIONS"
	// PhaseDelivery は納品段階。終端フェーズで、これ以上進まない。
	PhaseDelivery Phase = "DELIVERY"
)

// InitialPhase はプロジェクト作成時のフェーズ。
const InitialPhase = PhaseDiscovery

// phaseOrder はフェーズの全順序。
var phaseOrder = []Phase{PhaseDiscovery, PhaseDesign, PhaseRevisions, PhaseDelivery}

// PhaseOrder はフェーズの全順序のコピーを返す。
func PhaseOrder() []Phase {
	order := make([]Phase, len(phaseOrder))
	copy(order, phaseOrder)
	return order
}

// Index は固定順序におけるフェーズの位置を返す。未知の値の場合は-1を返す。
func (p Phase) Index() int {
	for i, v := range phaseOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// Valid は既知のフェーズかどうかを返す。
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// IsTerminal は終端フェーズかどうかを返す。
func (p Phase) IsTerminal() bool {
	return p == phaseOrder[len(phaseOrder)-1]
}

// Next は次のフェーズを返す。
// 終端フェーズまたは未知の値の場合はfalseを返す。
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[i+1], true
}

// ParsePhase は文字列をPhaseに変換する。未知の値の場合はエラーを返す。
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}

// PhaseEntry はフェーズ遷移履歴の1エントリを表す。
type PhaseEntry struct {
	Phase     Phase
	EnteredAt time.Time
}

// Project は制作プロジェクトを表す。
// PhaseHistoryは追記専用で、CurrentPhaseは常に最後のエントリのフェーズと一致する
// （履歴が空の場合はInitialPhase）。
type Project struct {
	ID           string
	OwnerID      string
	CurrentPhase Phase
	PhaseHistory []PhaseEntry
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProject は初期フェーズ・空の履歴でProjectを生成する。
func NewProject(id, ownerID string, now time.Time) *Project {
	return &Project{
		ID:           id,
		OwnerID:      ownerID,
		CurrentPhase: InitialPhase,
		PhaseHistory: []PhaseEntry{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone はProjectのディープコピーを返す。
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.PhaseHistory = make([]PhaseEntry, len(p.PhaseHistory))
	copy(cp.PhaseHistory, p.PhaseHistory)
	return &cp
}
