package auction

import (
	"time"

	"artbid/models"
)

// DefaultMinBidIncrement 為預設的最低加價幅度
const DefaultMinBidIncrement int64 = 10_000

// MinimumBid 回傳作品目前可接受的最低出價
func MinimumBid(artwork *models.Artwork, minIncrement int64) int64 {
	return artwork.CurrentPrice + minIncrement
}

// ValidateBid 檢查出價是否可被接受，不會修改任何狀態
// 拒絕時回傳 *ValidationError，並附上目前的最低出價
func ValidateBid(artwork *models.Artwork, bidAmount int64, now time.Time, minIncrement int64) error {
	if artwork == nil {
		return &ValidationError{Reason: ReasonNotFound}
	}
	minimum := MinimumBid(artwork, minIncrement)
	if !artwork.IsAuction() {
		return &ValidationError{Reason: ReasonNotAuction}
	}
	if artwork.Status != models.ArtworkStatusActive {
		return &ValidationError{Reason: ReasonNotActive, MinimumBid: minimum}
	}
	if artwork.AuctionEndTime != nil && now.After(*artwork.AuctionEndTime) {
		return &ValidationError{Reason: ReasonEnded, MinimumBid: minimum}
	}
	if bidAmount < minimum {
		return &ValidationError{Reason: ReasonBelowMinimum, MinimumBid: minimum}
	}
	return nil
}
