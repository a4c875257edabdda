package auction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artbid/models"
)

// Purchase 以定價購買作品，收取含買方佣金的金額並建立訂單
func (s *Service) Purchase(ctx context.Context, artworkID, userID uuid.UUID) (*models.Order, error) {
	const op = "Service.Purchase"
	var order *models.Order
	err := s.withArtworkLock(ctx, artworkID, func(lockCtx context.Context) error {
		return s.db.WithContext(lockCtx).Transaction(func(tx *gorm.DB) error {
			var err error
			order, err = s.purchaseTx(tx, artworkID, userID)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	s.logger.Info("Artwork purchased", slog.String("artwork", artworkID.String()), slog.String("user", userID.String()), slog.Int64("price", order.Price))
	s.notifier.Notify(context.WithoutCancel(ctx), userID)
	return order, nil
}

func (s *Service) purchaseTx(tx *gorm.DB, artworkID, userID uuid.UUID) (*models.Order, error) {
	var artwork models.Artwork
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", artworkID).Limit(1).Find(&artwork)
	if result.Error != nil {
		return nil, fmt.Errorf("fail to lock artwork, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &ValidationError{Reason: ReasonNotFound}
	}
	if artwork.SaleType != models.SaleTypeFixed {
		return nil, &ValidationError{Reason: ReasonNotFixedPrice}
	}
	if artwork.Status != models.ArtworkStatusActive {
		return nil, &ValidationError{Reason: ReasonNotActive}
	}
	if artwork.ArtistID == userID {
		return nil, &ValidationError{Reason: ReasonOwnArtwork}
	}

	total := s.calculator.TotalBid(artwork.Price)
	if _, err := s.ledger.Charge(tx, userID, total, artwork.ID); err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:       userID,
		ArtworkID:    artwork.ID,
		OrderType:    models.OrderTypePurchase,
		Price:        total,
		HammerPrice:  artwork.Price,
		BuyerPremium: total - artwork.Price,
		Status:       models.OrderStatusPending,
	}
	if result := tx.Create(order); result.Error != nil {
		return nil, fmt.Errorf("fail to create order, err=%w", result.Error)
	}

	result = tx.Model(&models.Artwork{}).
		Where("id = ? AND version = ?", artwork.ID, artwork.Version).
		Updates(map[string]any{
			"status":  models.ArtworkStatusSold,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("fail to update artwork, err=%w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrencyConflict
	}
	return order, nil
}
