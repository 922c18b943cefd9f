// Package model はドメインモデルを定義する。
package model

import "time"

// SignupCode は一度だけ利用できるライセンスコードを表す。
// 発行は外部の決済フローで行われ、このサービスは引き換え時にのみ状態を変更する。
type SignupCode struct {
	Code      string
	Used      bool
	UsedAt    *time.Time // Usedがtrueの場合のみ設定される
	Email     *string    // 発行時に引き継がれた値。引き換えでは変更しない
	PaymentID *string    // 発行時に引き継がれた値。引き換えでは変更しない
	CreatedAt time.Time
}

// Clone はSignupCodeのディープコピーを返す。
// インメモリストアが内部状態を呼び出し元と共有しないために使用する。
func (c *SignupCode) Clone() *SignupCode {
	if c == nil {
		return nil
	}
	cp := *c
	if c.UsedAt != nil {
		t := *c.UsedAt
		cp.UsedAt = &t
	}
	if c.Email != nil {
		s := *c.Email
		cp.Email = &s
	}
	if c.PaymentID != nil {
		s := *c.PaymentID
		cp.PaymentID = &s
	}
	return &cp
}

// RedemptionResult はライセンスコード引き換え成功時の結果を表す。
// 発行時に引き継がれたフィールドのみを含み、秘密情報は含まない。
type RedemptionResult struct {
	Success   bool
	Email     *string
	PaymentID *string
}
