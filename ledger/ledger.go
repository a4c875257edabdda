// Package ledger 實作使用者的託管帳本
//
// 帳本由兩部分組成:
//   - balances 表記錄每位使用者的錢包餘額(尚未被出價凍結的金額)
//   - balance_transactions 表以只新增的方式記錄每一次錢包異動與異動後的餘額
//
// 凍結金額(escrow)不另外儲存，而是由使用者目前得標中的進行中拍賣推導，因此
//
//	total     = wallet + escrowHeld
//	available = total - escrowHeld = wallet
//
// 出價時扣除錢包餘額(bid)，被超越時退回(refund)，拍賣結算時凍結金額直接轉為貨款。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artbid/models"
)

const maxDescriptionLength = 255

// Snapshot 為某個時間點使用者的餘額狀態
type Snapshot struct {
	UserID     uuid.UUID `json:"userId"`
	Total      int64     `json:"totalBalance"`
	EscrowHeld int64     `json:"escrowHeld"`
	Available  int64     `json:"availableBalance"`
}

type options struct {
	logger *slog.Logger
	policy *bluemonday.Policy
	now    func() time.Time
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock 設置取得目前時間的函數 (主要用於測試)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Ledger 提供餘額查詢與異動
// 異動操作都在呼叫端提供的交易(tx)中執行，以便和出價、結算一起提交或回滾
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
	policy *bluemonday.Policy
	now    func() time.Time
}

func New(db *gorm.DB, opts ...Option) *Ledger {
	// 默認選項
	o := options{
		logger: slog.Default(),
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ledger{
		db:     db,
		logger: o.logger.With(slog.String("caller", "Ledger")),
		policy: o.policy,
		now:    o.now,
	}
}

// GetTotalBalance 回傳使用者的總餘額(錢包 + 凍結)
func (l *Ledger) GetTotalBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	snapshot, err := l.GetSnapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snapshot.Total, nil
}

// GetEscrowHeld 回傳使用者因得標中的拍賣而被凍結的金額
func (l *Ledger) GetEscrowHeld(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "Ledger.GetEscrowHeld"
	held, err := escrowHeld(l.db.WithContext(ctx), userID)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to sum escrow, err=%w", op, err)
	}
	return held, nil
}

// GetAvailableBalance 回傳可以用來出價或提領的餘額
func (l *Ledger) GetAvailableBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	snapshot, err := l.GetSnapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snapshot.Available, nil
}

// GetSnapshot 在同一個交易中讀取錢包與凍結金額
func (l *Ledger) GetSnapshot(ctx context.Context, userID uuid.UUID) (Snapshot, error) {
	const op = "Ledger.GetSnapshot"
	var snapshot Snapshot
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		snapshot, err = l.SnapshotTx(tx, userID)
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("[%s] Fail to read snapshot, err=%w", op, err)
	}
	return snapshot, nil
}

// SnapshotTx 在指定交易中讀取餘額狀態
func (l *Ledger) SnapshotTx(tx *gorm.DB, userID uuid.UUID) (Snapshot, error) {
	wallet, err := walletBalance(tx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	held, err := escrowHeld(tx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		UserID:     userID,
		Total:      wallet + held,
		EscrowHeld: held,
		Available:  wallet,
	}, nil
}

// Lock 確保使用者的餘額列存在並以 SELECT ... FOR UPDATE 鎖定
// 多位使用者會依照 ID 排序後依序上鎖，避免兩個交易以相反順序互相等待
func (l *Ledger) Lock(tx *gorm.DB, userIDs ...uuid.UUID) error {
	const op = "Ledger.Lock"
	ids := uniqueSorted(userIDs)
	for _, id := range ids {
		if _, err := lockBalance(tx, id); err != nil {
			return fmt.Errorf("[%s] Fail to lock balance, user=%s, err=%w", op, id, err)
		}
	}
	return nil
}

// RecordDeposit 儲值，會自己開啟交易
func (l *Ledger) RecordDeposit(ctx context.Context, userID uuid.UUID, amount int64, description string) (*models.BalanceTransaction, error) {
	const op = "Ledger.RecordDeposit"
	if amount <= 0 {
		return nil, fmt.Errorf("[%s] %w: %d", op, ErrInvalidAmount, amount)
	}
	var record *models.BalanceTransaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, err = l.apply(tx, userID, models.TransactionTypeDeposit, amount, nil, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to record deposit, err=%w", op, err)
	}
	l.logger.Info("Deposit recorded", slog.String("user", userID.String()), slog.Int64("amount", amount), slog.Int64("balanceAfter", record.BalanceAfter))
	return record, nil
}

// HoldForBid 從可用餘額中凍結出價金額
// 可用餘額不足時回傳 *InsufficientBalanceError，且不會寫入任何資料
func (l *Ledger) HoldForBid(tx *gorm.DB, userID uuid.UUID, amount int64, artworkID uuid.UUID) (*models.BalanceTransaction, error) {
	const op = "Ledger.HoldForBid"
	if amount <= 0 {
		return nil, fmt.Errorf("[%s] %w: %d", op, ErrInvalidAmount, amount)
	}
	record, err := l.apply(tx, userID, models.TransactionTypeBid, -amount, &artworkID, "bid hold")
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return record, nil
}

// ReleaseHold 退回被超越或流標的出價金額
func (l *Ledger) ReleaseHold(tx *gorm.DB, userID uuid.UUID, amount int64, artworkID uuid.UUID) (*models.BalanceTransaction, error) {
	const op = "Ledger.ReleaseHold"
	if amount <= 0 {
		return nil, fmt.Errorf("[%s] %w: %d", op, ErrInvalidAmount, amount)
	}
	record, err := l.apply(tx, userID, models.TransactionTypeRefund, amount, &artworkID, "outbid refund")
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return record, nil
}

// Charge 直購時直接從可用餘額扣款
func (l *Ledger) Charge(tx *gorm.DB, userID uuid.UUID, amount int64, artworkID uuid.UUID) (*models.BalanceTransaction, error) {
	const op = "Ledger.Charge"
	if amount <= 0 {
		return nil, fmt.Errorf("[%s] %w: %d", op, ErrInvalidAmount, amount)
	}
	record, err := l.apply(tx, userID, models.TransactionTypePurchase, -amount, &artworkID, "fixed price purchase")
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return record, nil
}

// ListTransactions 依新到舊列出使用者的異動紀錄
func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.BalanceTransaction, error) {
	const op = "Ledger.ListTransactions"
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var records []models.BalanceTransaction
	if result := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("seq DESC").
		Limit(limit).Offset(offset).
		Find(&records); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list transactions, err=%w", op, result.Error)
	}
	return records, nil
}

// Replay 加總使用者所有異動金額，結果應該等於目前的錢包餘額
func (l *Ledger) Replay(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "Ledger.Replay"
	var sum int64
	if result := l.db.WithContext(ctx).Model(&models.BalanceTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ?", userID).
		Scan(&sum); result.Error != nil {
		return 0, fmt.Errorf("[%s] Fail to sum transactions, err=%w", op, result.Error)
	}
	return sum, nil
}

// apply 鎖定餘額列、檢查不變量、更新餘額並新增一筆異動紀錄
func (l *Ledger) apply(tx *gorm.DB, userID uuid.UUID, kind models.TransactionType, amount int64, artworkID *uuid.UUID, description string) (*models.BalanceTransaction, error) {
	balance, err := lockBalance(tx, userID)
	if err != nil {
		return nil, fmt.Errorf("fail to lock balance, err=%w", err)
	}

	// 上一筆異動的 BalanceAfter 必須等於目前餘額
	var last models.BalanceTransaction
	// 各實例的時鐘可能不同步，順序只看 seq
	result := tx.Where("user_id = ?", userID).Order("seq DESC").Limit(1).Find(&last)
	if result.Error != nil {
		return nil, fmt.Errorf("fail to find last transaction, err=%w", result.Error)
	}
	expected := int64(0)
	if result.RowsAffected > 0 {
		expected = last.BalanceAfter
	}
	if expected != balance.Balance {
		return nil, l.violation(userID, "balance drifted from transaction log", expected, balance.Balance)
	}

	after := balance.Balance + amount
	if after < 0 {
		if kind == models.TransactionTypeBid || kind == models.TransactionTypePurchase {
			return nil, &InsufficientBalanceError{UserID: userID, Required: -amount, Available: balance.Balance}
		}
		return nil, l.violation(userID, "wallet would become negative", 0, after)
	}
	held, err := escrowHeld(tx, userID)
	if err != nil {
		return nil, fmt.Errorf("fail to sum escrow, err=%w", err)
	}
	if held < 0 {
		return nil, l.violation(userID, "negative escrow", 0, held)
	}

	if result := tx.Model(&models.Balance{}).Where("user_id = ?", userID).Update("balance", after); result.Error != nil {
		return nil, fmt.Errorf("fail to update balance, err=%w", result.Error)
	}

	// created_at 維持嚴格遞增，與 seq 的順序一致
	createdAt := l.now()
	if last.Seq > 0 && !createdAt.After(last.CreatedAt) {
		createdAt = last.CreatedAt.Add(time.Microsecond)
	}
	record := &models.BalanceTransaction{
		UserID:       userID,
		Seq:          last.Seq + 1,
		Type:         kind,
		Amount:       amount,
		BalanceAfter: after,
		Description:  l.sanitize(description),
		ArtworkID:    artworkID,
		CreatedAt:    createdAt,
	}
	if result := tx.Create(record); result.Error != nil {
		return nil, fmt.Errorf("fail to append transaction, err=%w", result.Error)
	}
	return record, nil
}

func (l *Ledger) violation(userID uuid.UUID, reason string, expected, actual int64) error {
	err := &InvariantViolationError{UserID: userID, Reason: reason, Expected: expected, Actual: actual}
	l.logger.Error("Ledger invariant violated", slog.String("user", userID.String()), slog.String("reason", reason), slog.Int64("expected", expected), slog.Int64("actual", actual))
	return err
}

func (l *Ledger) sanitize(description string) string {
	clean := l.policy.Sanitize(description)
	runes := []rune(clean)
	if len(runes) > maxDescriptionLength {
		clean = string(runes[:maxDescriptionLength])
	}
	return clean
}

func lockBalance(tx *gorm.DB, userID uuid.UUID) (*models.Balance, error) {
	if result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Balance{UserID: userID}); result.Error != nil {
		return nil, result.Error
	}
	var balance models.Balance
	if result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&balance); result.Error != nil {
		return nil, result.Error
	}
	return &balance, nil
}

func walletBalance(tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var balance models.Balance
	result := tx.Where("user_id = ?", userID).Limit(1).Find(&balance)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, result.Error
	}
	return balance.Balance, nil
}

func escrowHeld(tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var held int64
	result := tx.Model(&models.Artwork{}).
		Select("COALESCE(SUM(current_price), 0)").
		Where("sale_type = ? AND status = ? AND highest_bidder_id = ?", models.SaleTypeAuction, models.ArtworkStatusActive, userID).
		Scan(&held)
	return held, result.Error
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
