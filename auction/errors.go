package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示作品或訂單不存在
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict 表示取得鎖失敗或版本比對失敗，呼叫端應重新讀取後再試
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrRequestIDReused 表示冪等鍵已經被其他使用者或作品的出價使用
	ErrRequestIDReused = errors.New("request id already used by another bid")
	// ErrForbidden 表示使用者無權執行此操作
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition 表示訂單狀態不能轉換到指定狀態
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Reason 為出價或購買被拒絕的原因
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonNotAuction    Reason = "not_auction"
	ReasonNotFixedPrice Reason = "not_fixed_price"
	ReasonNotActive     Reason = "not_active"
	ReasonEnded         Reason = "ended"
	ReasonBelowMinimum  Reason = "below_minimum"
	ReasonOwnArtwork    Reason = "own_artwork"
)

// ValidationError 表示可由使用者修正的錯誤
// MinimumBid 為目前可接受的最低出價，讓呼叫端不需要重新查詢
type ValidationError struct {
	Reason     Reason
	MinimumBid int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return "artwork not found"
	case ReasonNotAuction:
		return "artwork is not sold by auction"
	case ReasonNotFixedPrice:
		return "artwork is not sold at a fixed price"
	case ReasonNotActive:
		return "artwork is not on sale"
	case ReasonEnded:
		return "auction has ended"
	case ReasonBelowMinimum:
		return fmt.Sprintf("bid is below the minimum of %d", e.MinimumBid)
	case ReasonOwnArtwork:
		return "artists cannot buy their own artwork"
	}
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// Is 讓 errors.Is(err, ErrNotFound) 可以判斷找不到作品的情況
func (e *ValidationError) Is(target error) bool {
	return e.Reason == ReasonNotFound && target == ErrNotFound
}
