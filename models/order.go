package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderType 代表訂單的來源
type OrderType string

const (
	OrderTypePurchase OrderType = "purchase"
	OrderTypeAuction  OrderType = "auction"
)

// OrderStatus 代表訂單的出貨進度，只能依序往前推進
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipping  OrderStatus = "shipping"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCompleted OrderStatus = "completed"
)

var orderStatusFlow = []OrderStatus{
	OrderStatusPending,
	OrderStatusPreparing,
	OrderStatusShipping,
	OrderStatusDelivered,
	OrderStatusCompleted,
}

// Next 回傳下一個狀態，已經是最終狀態或狀態不合法時回傳 false
func (s OrderStatus) Next() (OrderStatus, bool) {
	for i, status := range orderStatusFlow {
		if status == s && i+1 < len(orderStatusFlow) {
			return orderStatusFlow[i+1], true
		}
	}
	return "", false
}

// Valid 判斷狀態是否為已知的狀態
func (s OrderStatus) Valid() bool {
	for _, status := range orderStatusFlow {
		if status == s {
			return true
		}
	}
	return false
}

// Order 代表一筆成交紀錄，由直購或拍賣結算建立
// 每件作品只會有一筆訂單，ArtworkID 上的唯一索引用來防止重複結算
//
// Price 為實際向買家收取的金額(含買方佣金)，HammerPrice 與 BuyerPremium 為其拆分
type Order struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID   `gorm:"type:uuid;not null;index;<-:create"`
	ArtworkID    uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	OrderType    OrderType   `gorm:"type:varchar(16);not null;<-:create"`
	Price        int64       `gorm:"not null;<-:create"`
	HammerPrice  int64       `gorm:"not null;<-:create"`
	BuyerPremium int64       `gorm:"not null;<-:create"`
	Status       OrderStatus `gorm:"type:varchar(16);not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Artwork *Artwork `gorm:"foreignKey:ArtworkID"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	return assignID(&o.ID)
}
