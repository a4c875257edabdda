package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viney-shih/goroutines"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artbid/models"
)

// SettleResult 為一次結算的結果
type SettleResult struct {
	ProcessedCount int `json:"processedCount"`
}

// settleOutcome 為單一作品的結算結果
type settleOutcome struct {
	settled  bool
	winnerID *uuid.UUID
}

// SettleExpired 結算所有已到期但仍在進行中的拍賣
//
// 每件作品在自己的交易中結算，單一作品失敗只會記錄日誌並略過。
// 作品狀態離開 active 後就不會再被選到，因此重複執行不會產生重複的訂單。
func (s *Service) SettleExpired(ctx context.Context) (SettleResult, error) {
	const op = "Service.SettleExpired"
	now := s.now()

	var ids []uuid.UUID
	if result := s.db.WithContext(ctx).Model(&models.Artwork{}).
		Where("sale_type = ? AND status = ? AND auction_end_time <= ?", models.SaleTypeAuction, models.ArtworkStatusActive, now).
		Order("auction_end_time ASC").
		Pluck("id", &ids); result.Error != nil {
		return SettleResult{}, fmt.Errorf("[%s] Fail to find expired auctions, err=%w", op, result.Error)
	}
	if len(ids) == 0 {
		return SettleResult{}, nil
	}

	b := goroutines.NewBatch(s.config.SettleWorkers, goroutines.WithBatchSize(len(ids)))
	defer b.Close()
	for _, id := range ids {
		artworkID := id
		b.Queue(func() (interface{}, error) {
			outcome, err := s.settleArtwork(ctx, artworkID, now)
			if err != nil {
				return nil, fmt.Errorf("artwork=%s, err=%w", artworkID, err)
			}
			return outcome, nil
		})
	}
	b.QueueComplete()

	processed := 0
	var winners []uuid.UUID
	for ret := range b.Results() {
		if ret.Error() != nil {
			s.logger.Error("Fail to settle auction", slog.Any("error", ret.Error()))
			continue
		}
		outcome := ret.Value().(*settleOutcome)
		if !outcome.settled {
			continue
		}
		processed++
		if outcome.winnerID != nil {
			winners = append(winners, *outcome.winnerID)
		}
	}

	if len(winners) > 0 {
		s.notifier.Notify(context.WithoutCancel(ctx), winners...)
	}
	s.logger.Info("Expired auctions settled", slog.Int("candidates", len(ids)), slog.Int("processed", processed))
	return SettleResult{ProcessedCount: processed}, nil
}

// settleArtwork 在作品鎖與交易中結算單一作品
func (s *Service) settleArtwork(ctx context.Context, artworkID uuid.UUID, now time.Time) (*settleOutcome, error) {
	outcome := &settleOutcome{}
	err := s.withArtworkLock(ctx, artworkID, func(lockCtx context.Context) error {
		return s.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
			return s.settleTx(tx, artworkID, now, outcome)
		})
	})
	if err != nil {
		return nil, err
	}
	if outcome.settled {
		s.evictPrice(ctx, artworkID)
	}
	return outcome, nil
}

func (s *Service) settleTx(tx *gorm.DB, artworkID uuid.UUID, now time.Time, outcome *settleOutcome) error {
	var artwork models.Artwork
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", artworkID).Limit(1).Find(&artwork)
	if result.Error != nil {
		return fmt.Errorf("fail to lock artwork, err=%w", result.Error)
	}
	// 取得鎖之後重新確認，其他實例可能已經結算過
	if result.RowsAffected == 0 || !artwork.IsAuction() || artwork.Status != models.ArtworkStatusActive ||
		artwork.AuctionEndTime == nil || artwork.AuctionEndTime.After(now) {
		return nil
	}

	nextStatus := models.ArtworkStatusUpcoming
	if artwork.HighestBidderID != nil {
		winner := *artwork.HighestBidderID
		// 鎖定得標者的餘額列，與得標者其他的出價互斥
		if err := s.ledger.Lock(tx, winner); err != nil {
			return err
		}
		hammer := s.calculator.HammerPrice(artwork.CurrentPrice)
		order := &models.Order{
			UserID:       winner,
			ArtworkID:    artwork.ID,
			OrderType:    models.OrderTypeAuction,
			Price:        artwork.CurrentPrice,
			HammerPrice:  hammer,
			BuyerPremium: artwork.CurrentPrice - hammer,
			Status:       models.OrderStatusPending,
		}
		if result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(order); result.Error != nil {
			return fmt.Errorf("fail to create order, err=%w", result.Error)
		} else if result.RowsAffected == 0 {
			s.logger.Warn("Order already exists for artwork", slog.String("artwork", artwork.ID.String()))
		}
		nextStatus = models.ArtworkStatusSold
		outcome.winnerID = &winner
	}

	result = tx.Model(&models.Artwork{}).
		Where("id = ? AND version = ? AND status = ?", artwork.ID, artwork.Version, models.ArtworkStatusActive).
		Updates(map[string]any{
			"status":  nextStatus,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return fmt.Errorf("fail to update artwork status, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	outcome.settled = true
	return nil
}

// Scheduler 以固定間隔執行拍賣到期結算
type Scheduler struct {
	service    *Service
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	mu         sync.Mutex
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewScheduler 建立排程，timeout 為單次結算的時間上限
func NewScheduler(service *Service, interval, timeout time.Duration) (*Scheduler, error) {
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		timeout:  timeout,
		logger:   service.logger.With(slog.String("caller", "SettleScheduler")),
	}, nil
}

func (sc *Scheduler) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.cancelFunc != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancelFunc = cancel
	sc.logger.Info("Start settle scheduler", slog.Duration("interval", sc.interval))

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		defer sc.logger.Info("Settle scheduler stopped")
		ticker := time.NewTicker(sc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sc.runOnce(ctx)
			}
		}
	}()
}

func (sc *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()
	result, err := sc.service.SettleExpired(runCtx)
	if err != nil {
		sc.logger.Error("Fail to settle expired auctions", slog.Any("error", err))
		return
	}
	if result.ProcessedCount > 0 {
		sc.logger.Info("Settle pass finished", slog.Int("processed", result.ProcessedCount))
	}
}

func (sc *Scheduler) Close() {
	sc.mu.Lock()
	cancel := sc.cancelFunc
	sc.cancelFunc = nil
	sc.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	sc.wg.Wait()
}
