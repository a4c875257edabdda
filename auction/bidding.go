package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artbid/models"
	"artbid/premium"
)

// BidRequest 為一次出價
// RequestID 為選填的冪等鍵，同一個鍵重送時會回傳第一次的結果而不會重複扣款
type BidRequest struct {
	ArtworkID uuid.UUID
	UserID    uuid.UUID
	BidAmount int64
	RequestID string
}

// BidResult 為出價成功後作品的狀態
type BidResult struct {
	Bid              models.Bid
	CurrentPrice     int64
	BidCount         int64
	HighestBidderID  uuid.UUID
	PreviousBidderID *uuid.UUID
	MinimumNextBid   int64
	Breakdown        premium.Breakdown
	// Replayed 表示這是重送的請求，回傳的是先前已成立的出價
	Replayed bool
}

// PlaceBid 驗證出價、凍結出價者的金額、退回前一位最高出價者的金額並更新作品
// 整個過程在同一個資料庫交易中完成，失敗時不會留下任何部分狀態
//
// 可能回傳的錯誤:
//   - *ValidationError: 作品不存在、不是拍賣、已結束或出價過低
//   - *ledger.InsufficientBalanceError: 可用餘額不足
//   - ErrConcurrencyConflict: 重試 MaxRetries 次後仍然衝突
//   - *ledger.InvariantViolationError: 帳本不一致
func (s *Service) PlaceBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	const op = "Service.PlaceBid"

	if req.RequestID != "" {
		result, err := s.findReplay(s.db.WithContext(ctx), req)
		if err != nil {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
		if result != nil {
			return result, nil
		}
	}

	if err := s.precheck(ctx, req); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}

	var result *BidResult
	for attempt := 0; ; attempt++ {
		var err error
		result, err = s.placeBid(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt >= s.config.MaxRetries {
			return nil, fmt.Errorf("[%s] %w", op, err)
		}
		s.logger.Warn("Retry bid after conflict", slog.String("artwork", req.ArtworkID.String()), slog.Int("attempt", attempt+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("[%s] %w", op, ctx.Err())
		case <-time.After(s.config.RetryDelay):
		}
	}

	if !result.Replayed {
		s.logger.Info("Higher bid occurs",
			slog.String("artwork", req.ArtworkID.String()),
			slog.String("user", req.UserID.String()),
			slog.Int64("bid", req.BidAmount),
			slog.Int64("bidCount", result.BidCount))
		// 通知在交易提交且釋放鎖之後才送出，呼叫端取消請求也不影響通知
		users := []uuid.UUID{req.UserID}
		if result.PreviousBidderID != nil && *result.PreviousBidderID != req.UserID {
			users = append(users, *result.PreviousBidderID)
		}
		s.notifier.Notify(context.WithoutCancel(ctx), users...)
	}
	return result, nil
}

// precheck 以快取的價格提早拒絕過低的出價，快取不存在時從資料庫讀取並寫回快取
func (s *Service) precheck(ctx context.Context, req BidRequest) error {
	values, err := PrecheckBidScript.Run(ctx, s.redisClient, []string{s.priceKey(req.ArtworkID)}, req.BidAmount, s.config.MinBidIncrement).Int64Slice()
	if err != nil || len(values) != 2 {
		s.logger.Warn("Skip price precheck", slog.String("artwork", req.ArtworkID.String()), slog.Any("error", err))
		return nil
	}
	switch values[0] {
	case precheckAccepted:
		return nil
	case precheckRejected:
		return &ValidationError{Reason: ReasonBelowMinimum, MinimumBid: values[1]}
	}

	var artwork models.Artwork
	result := s.db.WithContext(ctx).Where("id = ?", req.ArtworkID).Limit(1).Find(&artwork)
	if result.Error != nil {
		return fmt.Errorf("fail to find artwork, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &ValidationError{Reason: ReasonNotFound}
	}
	if err := ValidateBid(&artwork, req.BidAmount, s.now(), s.config.MinBidIncrement); err != nil {
		return err
	}
	s.cachePrice(ctx, artwork.ID, artwork.CurrentPrice)
	return nil
}

func (s *Service) placeBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	var result *BidResult
	err := s.withArtworkLock(ctx, req.ArtworkID, func(lockCtx context.Context) error {
		err := s.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = s.settleBid(tx, req)
			return err
		})
		if err != nil {
			return err
		}
		if !result.Replayed {
			s.cachePrice(lockCtx, req.ArtworkID, result.CurrentPrice)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settleBid 在交易中完成一次出價
func (s *Service) settleBid(tx *gorm.DB, req BidRequest) (*BidResult, error) {
	if req.RequestID != "" {
		result, err := s.findReplay(tx, req)
		if err != nil || result != nil {
			return result, err
		}
	}

	var artwork models.Artwork
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", req.ArtworkID).Limit(1).Find(&artwork)
	if result.Error != nil {
		return nil, fmt.Errorf("fail to lock artwork, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &ValidationError{Reason: ReasonNotFound}
	}
	if err := ValidateBid(&artwork, req.BidAmount, s.now(), s.config.MinBidIncrement); err != nil {
		return nil, err
	}
	if artwork.ArtistID == req.UserID {
		return nil, &ValidationError{Reason: ReasonOwnArtwork, MinimumBid: MinimumBid(&artwork, s.config.MinBidIncrement)}
	}

	previous := artwork.HighestBidderID
	previousAmount := artwork.CurrentPrice
	involved := []uuid.UUID{req.UserID}
	if previous != nil {
		involved = append(involved, *previous)
	}
	if err := s.ledger.Lock(tx, involved...); err != nil {
		return nil, err
	}

	if previous != nil && *previous == req.UserID {
		// 最高出價者自己加價: 先退回原本的凍結金額再凍結新的金額
		if _, err := s.ledger.ReleaseHold(tx, req.UserID, previousAmount, artwork.ID); err != nil {
			return nil, err
		}
		if _, err := s.ledger.HoldForBid(tx, req.UserID, req.BidAmount, artwork.ID); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.ledger.HoldForBid(tx, req.UserID, req.BidAmount, artwork.ID); err != nil {
			return nil, err
		}
		if previous != nil {
			if _, err := s.ledger.ReleaseHold(tx, *previous, previousAmount, artwork.ID); err != nil {
				return nil, err
			}
		}
	}

	bid := models.Bid{
		ArtworkID: artwork.ID,
		UserID:    req.UserID,
		BidAmount: req.BidAmount,
		RequestID: lo.EmptyableToPtr(req.RequestID),
		CreatedAt: s.now(),
	}
	if result := tx.Create(&bid); result.Error != nil {
		return nil, fmt.Errorf("fail to create bid, err=%w", result.Error)
	}

	result = tx.Model(&models.Artwork{}).
		Where("id = ? AND version = ?", artwork.ID, artwork.Version).
		Updates(map[string]any{
			"current_price":     req.BidAmount,
			"bid_count":         gorm.Expr("bid_count + 1"),
			"highest_bidder_id": req.UserID,
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("fail to update artwork, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrencyConflict
	}

	artwork.CurrentPrice = req.BidAmount
	artwork.BidCount++
	return &BidResult{
		Bid:              bid,
		CurrentPrice:     artwork.CurrentPrice,
		BidCount:         artwork.BidCount,
		HighestBidderID:  req.UserID,
		PreviousBidderID: previous,
		MinimumNextBid:   MinimumBid(&artwork, s.config.MinBidIncrement),
		Breakdown:        s.calculator.Breakdown(req.BidAmount),
	}, nil
}

// findReplay 依冪等鍵找出先前已成立的出價，沒有時回傳 nil
func (s *Service) findReplay(db *gorm.DB, req BidRequest) (*BidResult, error) {
	var bid models.Bid
	result := db.Where("request_id = ?", req.RequestID).Limit(1).Find(&bid)
	if result.Error != nil {
		return nil, fmt.Errorf("fail to find bid by request id, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	if bid.UserID != req.UserID || bid.ArtworkID != req.ArtworkID || bid.BidAmount != req.BidAmount {
		return nil, ErrRequestIDReused
	}

	var artwork models.Artwork
	if result := db.Where("id = ?", bid.ArtworkID).First(&artwork); result.Error != nil {
		return nil, fmt.Errorf("fail to find artwork, err=%w", result.Error)
	}
	return &BidResult{
		Bid:             bid,
		CurrentPrice:    artwork.CurrentPrice,
		BidCount:        artwork.BidCount,
		HighestBidderID: lo.FromPtr(artwork.HighestBidderID),
		MinimumNextBid:  MinimumBid(&artwork, s.config.MinBidIncrement),
		Breakdown:       s.calculator.Breakdown(bid.BidAmount),
		Replayed:        true,
	}, nil
}

// ListBids 依出價金額由高到低列出作品的出價，同金額時先出價者在前
func (s *Service) ListBids(ctx context.Context, artworkID uuid.UUID, limit int) ([]models.Bid, error) {
	const op = "Service.ListBids"
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var count int64
	if result := s.db.WithContext(ctx).Model(&models.Artwork{}).Where("id = ?", artworkID).Count(&count); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to find artwork, err=%w", op, result.Error)
	}
	if count == 0 {
		return nil, fmt.Errorf("[%s] %w", op, ErrNotFound)
	}
	var bids []models.Bid
	if result := s.db.WithContext(ctx).
		Where("artwork_id = ?", artworkID).
		Order("bid_amount DESC").Order("created_at ASC").
		Limit(limit).
		Find(&bids); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, result.Error)
	}
	return bids, nil
}
