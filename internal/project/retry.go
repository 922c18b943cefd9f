package project

import "time"

const (
	// baseBackoff はフェーズ進行の再試行間隔の単位。
	baseBackoff = 20 * time.Millisecond
	// maxBackoff は再試行間隔の上限。
	maxBackoff = 200 * time.Millisecond
)

// CalculateBackoff は再試行回数に比例した待機時間を返す。
// 1回目20ms、2回目40msと線形に増加し、最大200ms。
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := time.Duration(attempt) * baseBackoff
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
