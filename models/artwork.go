package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SaleType 代表作品的販售方式
type SaleType string

const (
	SaleTypeAuction SaleType = "auction"
	SaleTypeFixed   SaleType = "fixed"
)

// ArtworkStatus 代表作品目前的販售狀態
type ArtworkStatus string

const (
	ArtworkStatusActive   ArtworkStatus = "active"
	ArtworkStatusSold     ArtworkStatus = "sold"
	ArtworkStatusUpcoming ArtworkStatus = "upcoming"
)

// Artwork 代表市集中的作品(僅包含競標與結算需要的欄位)
// 作品的建立與編輯由其他服務負責，這裡只會修改價格、出價人數、最高出價者與狀態
//
// CurrentPrice 存放的是含買方佣金的出價總額，拍賣尚無人出價時為起標價
// Version 每次寫入加一，用於比對並交換(compare-and-swap)的更新
type Artwork struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey"`
	ArtistID        uuid.UUID     `gorm:"type:uuid;not null;index"`
	Title           string        `gorm:"type:varchar(255);not null"`
	SaleType        SaleType      `gorm:"type:varchar(16);not null;index:idx_artwork_settlement,priority:1"`
	Price           int64         `gorm:"not null;default:0"`
	CurrentPrice    int64         `gorm:"not null;default:0"`
	AuctionEndTime  *time.Time    `gorm:"index:idx_artwork_settlement,priority:3"`
	HighestBidderID *uuid.UUID    `gorm:"type:uuid;index"`
	BidCount        int64         `gorm:"not null;default:0"`
	Status          ArtworkStatus `gorm:"type:varchar(16);not null;index:idx_artwork_settlement,priority:2"`
	Version         int64         `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// 外鍵關聯
	Bids []Bid `gorm:"foreignKey:ArtworkID"`
}

func (a *Artwork) BeforeCreate(tx *gorm.DB) error {
	return assignID(&a.ID)
}

// IsAuction 判斷作品是否為拍賣品
func (a *Artwork) IsAuction() bool {
	return a.SaleType == SaleTypeAuction
}

// assignID 在主鍵尚未設定時產生 UUIDv7
func assignID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	v7, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = v7
	return nil
}
