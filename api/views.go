package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"artbid/auction"
	"artbid/models"
	"artbid/premium"
)

type BidView struct {
	ID        uuid.UUID `json:"id"`
	ArtworkID uuid.UUID `json:"artworkId"`
	UserID    uuid.UUID `json:"userId"`
	BidAmount int64     `json:"bidAmount"`
	RequestID *string   `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newBidView(bid models.Bid) BidView {
	return BidView{
		ID:        bid.ID,
		ArtworkID: bid.ArtworkID,
		UserID:    bid.UserID,
		BidAmount: bid.BidAmount,
		RequestID: bid.RequestID,
		CreatedAt: bid.CreatedAt,
	}
}

type BidResponse struct {
	Bid              BidView           `json:"bid"`
	CurrentPrice     int64             `json:"currentPrice"`
	BidCount         int64             `json:"bidCount"`
	HighestBidderID  uuid.UUID         `json:"highestBidderId"`
	PreviousBidderID *uuid.UUID        `json:"previousBidderId,omitempty"`
	MinimumNextBid   int64             `json:"minimumNextBid"`
	Breakdown        premium.Breakdown `json:"breakdown"`
	Replayed         bool              `json:"replayed"`
}

func newBidResponse(result *auction.BidResult) BidResponse {
	return BidResponse{
		Bid:              newBidView(result.Bid),
		CurrentPrice:     result.CurrentPrice,
		BidCount:         result.BidCount,
		HighestBidderID:  result.HighestBidderID,
		PreviousBidderID: result.PreviousBidderID,
		MinimumNextBid:   result.MinimumNextBid,
		Breakdown:        result.Breakdown,
		Replayed:         result.Replayed,
	}
}

type OrderView struct {
	ID           uuid.UUID          `json:"id"`
	UserID       uuid.UUID          `json:"userId"`
	ArtworkID    uuid.UUID          `json:"artworkId"`
	OrderType    models.OrderType   `json:"orderType"`
	Price        int64              `json:"price"`
	HammerPrice  int64              `json:"hammerPrice"`
	BuyerPremium int64              `json:"buyerPremium"`
	Status       models.OrderStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func newOrderView(order models.Order) OrderView {
	return OrderView{
		ID:           order.ID,
		UserID:       order.UserID,
		ArtworkID:    order.ArtworkID,
		OrderType:    order.OrderType,
		Price:        order.Price,
		HammerPrice:  order.HammerPrice,
		BuyerPremium: order.BuyerPremium,
		Status:       order.Status,
		CreatedAt:    order.CreatedAt,
		UpdatedAt:    order.UpdatedAt,
	}
}

type TransactionView struct {
	ID           uuid.UUID              `json:"id"`
	Seq          int64                  `json:"seq"`
	Type         models.TransactionType `json:"type"`
	Amount       int64                  `json:"amount"`
	BalanceAfter int64                  `json:"balanceAfter"`
	Description  string                 `json:"description"`
	ArtworkID    *uuid.UUID             `json:"artworkId,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

func newTransactionView(record models.BalanceTransaction) TransactionView {
	return TransactionView{
		ID:           record.ID,
		Seq:          record.Seq,
		Type:         record.Type,
		Amount:       record.Amount,
		BalanceAfter: record.BalanceAfter,
		Description:  record.Description,
		ArtworkID:    record.ArtworkID,
		CreatedAt:    record.CreatedAt,
	}
}

func mapViews[T, V any](items []T, fn func(T) V) []V {
	return lo.Map(items, func(item T, _ int) V {
		return fn(item)
	})
}
