package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表拍賣作品的出價紀錄
// 出價一旦建立就不會再修改，更高的出價會是新的一筆紀錄
//
// BidAmount 為含買方佣金的出價總額
// RequestID 為呼叫端提供的冪等鍵，重送相同的請求不會重複扣款
type Bid struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ArtworkID uuid.UUID `gorm:"type:uuid;not null;index:idx_bid_artwork_created,priority:1;<-:create"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BidAmount int64     `gorm:"not null;<-:create"`
	RequestID *string   `gorm:"type:varchar(64);uniqueIndex;<-:create"`
	CreatedAt time.Time `gorm:"index:idx_bid_artwork_created,priority:2"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	return assignID(&b.ID)
}
