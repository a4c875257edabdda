package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Balance 代表使用者的錢包餘額
// Balance 欄位只記錄尚未被出價凍結的金額，凍結中的金額由得標中的拍賣推導
type Balance struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionType 代表餘額異動的種類
type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypeBid      TransactionType = "bid"
	TransactionTypeRefund   TransactionType = "refund"
	TransactionTypePurchase TransactionType = "purchase"
)

// BalanceTransaction 代表一筆只能新增的餘額異動紀錄
// Amount 為帶正負號的異動金額，BalanceAfter 為套用異動後的錢包餘額
// Seq 為同一位使用者的異動序號，從 1 開始連續遞增，帳本的先後順序以 Seq 為準
type BalanceTransaction struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_balance_tx_user_seq,priority:1;<-:create"`
	Seq          int64           `gorm:"not null;uniqueIndex:idx_balance_tx_user_seq,priority:2;<-:create"`
	Type         TransactionType `gorm:"type:varchar(16);not null;<-:create"`
	Amount       int64           `gorm:"not null;<-:create"`
	BalanceAfter int64           `gorm:"not null;<-:create"`
	Description  string          `gorm:"type:varchar(255);not null;default:'';<-:create"`
	ArtworkID    *uuid.UUID      `gorm:"type:uuid;index;<-:create"`
	CreatedAt    time.Time       `gorm:"<-:create"`
}

func (t *BalanceTransaction) BeforeCreate(tx *gorm.DB) error {
	return assignID(&t.ID)
}
