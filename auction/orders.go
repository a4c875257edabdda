package auction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"artbid/models"
)

// AdvanceOrderStatus 由作品的創作者將訂單推進到下一個狀態
// next 必須剛好是目前狀態的下一個狀態
func (s *Service) AdvanceOrderStatus(ctx context.Context, orderID, artistID uuid.UUID, next models.OrderStatus) (*models.Order, error) {
	const op = "Service.AdvanceOrderStatus"
	if !next.Valid() {
		return nil, fmt.Errorf("[%s] %w: unknown status %q", op, ErrInvalidTransition, next)
	}

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("Artwork").Where("id = ?", orderID).Limit(1).Find(&order)
		if result.Error != nil {
			return fmt.Errorf("fail to find order, err=%w", result.Error)
		}
		if result.RowsAffected == 0 || order.Artwork == nil {
			return ErrNotFound
		}
		if order.Artwork.ArtistID != artistID {
			return ErrForbidden
		}
		expected, ok := order.Status.Next()
		if !ok || expected != next {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, next)
		}
		result = tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", order.ID, order.Status).
			Update("status", next)
		if result.Error != nil {
			return fmt.Errorf("fail to update order status, err=%w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConcurrencyConflict
		}
		order.Status = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return &order, nil
}

// ListOrders 列出使用者的訂單，由新到舊
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	const op = "Service.ListOrders"
	var orders []models.Order
	if result := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&orders); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list orders, err=%w", op, result.Error)
	}
	return orders, nil
}
