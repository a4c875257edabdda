package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidAmount 表示異動金額不是正數
	ErrInvalidAmount = errors.New("amount must be positive")
)

// InsufficientBalanceError 表示可用餘額不足以凍結或扣款
// 呼叫端可以依照 Required 與 Available 提示使用者需要儲值的金額
type InsufficientBalanceError struct {
	UserID    uuid.UUID
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user=%s, required=%d, available=%d", e.UserID, e.Required, e.Available)
}

// Shortfall 回傳還差多少金額
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Required - e.Available
}

// InvariantViolationError 表示帳本的不變量被破壞(餘額與異動紀錄不一致或出現負數)
// 這種錯誤代表程式邏輯有問題，不應該重試，交易必須中止
type InvariantViolationError struct {
	UserID   uuid.UUID
	Reason   string
	Expected int64
	Actual   int64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("ledger invariant violated: user=%s, reason=%s, expected=%d, actual=%d", e.UserID, e.Reason, e.Expected, e.Actual)
}
