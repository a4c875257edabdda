package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artbid/ledger"
	"artbid/models"
	"artbid/notify"
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	MinimumBid int64  `json:"minimumBid"`
	Required   int64  `json:"required"`
	Available  int64  `json:"available"`
}

func TestPostArtworkBid(t *testing.T) {
	s := setupServer(t)
	alice, bob := uuid.New(), uuid.New()
	s.deposit(t, alice, 300_000)
	s.deposit(t, bob, 200_000)
	artwork := s.createAuction(t, 100_000, time.Hour)
	path := fmt.Sprintf("/artworks/%s/bids", artwork.ID)

	w := s.do(t, http.MethodPost, path, alice, PostBidRequest{BidAmount: 110_000, RequestID: "req-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[BidResponse](t, w)
	assert.Equal(t, int64(110_000), result.CurrentPrice)
	assert.Equal(t, int64(1), result.BidCount)
	assert.Equal(t, alice, result.HighestBidderID)
	assert.Equal(t, int64(120_000), result.MinimumNextBid)
	assert.Equal(t, int64(100_000), result.Breakdown.HammerPrice)
	assert.Equal(t, int64(10_000), result.Breakdown.BuyerPremium)
	assert.False(t, result.Replayed)

	// 重送同一個請求不會重複扣款
	w = s.do(t, http.MethodPost, path, alice, PostBidRequest{BidAmount: 110_000, RequestID: "req-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[BidResponse](t, w).Replayed)

	w = s.do(t, http.MethodGet, "/balance", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode[ledger.Snapshot](t, w)
	assert.Equal(t, int64(300_000), snapshot.Total)
	assert.Equal(t, int64(110_000), snapshot.EscrowHeld)
	assert.Equal(t, int64(190_000), snapshot.Available)

	tests := []struct {
		name     string
		path     string
		userID   uuid.UUID
		body     any
		wantCode int
		check    func(t *testing.T, body errorResponse)
	}{
		{
			name:     "below minimum",
			path:     path,
			userID:   bob,
			body:     PostBidRequest{BidAmount: 115_000},
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, body errorResponse) {
				assert.Equal(t, "below_minimum", body.Error)
				assert.Equal(t, int64(120_000), body.MinimumBid)
			},
		},
		{
			name:     "insufficient balance",
			path:     path,
			userID:   bob,
			body:     PostBidRequest{BidAmount: 250_000},
			wantCode: http.StatusPaymentRequired,
			check: func(t *testing.T, body errorResponse) {
				assert.Equal(t, int64(250_000), body.Required)
				assert.Equal(t, int64(200_000), body.Available)
			},
		},
		{
			name:     "request id used by another user",
			path:     path,
			userID:   bob,
			body:     PostBidRequest{BidAmount: 120_000, RequestID: "req-1"},
			wantCode: http.StatusConflict,
			check: func(t *testing.T, body errorResponse) {
				assert.Equal(t, "request_id_reused", body.Error)
			},
		},
		{
			name:     "unknown artwork",
			path:     fmt.Sprintf("/artworks/%s/bids", uuid.New()),
			userID:   bob,
			body:     PostBidRequest{BidAmount: 120_000},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "invalid artwork id",
			path:     "/artworks/not-a-uuid/bids",
			userID:   bob,
			body:     PostBidRequest{BidAmount: 120_000},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "non positive amount",
			path:     path,
			userID:   bob,
			body:     map[string]any{"bidAmount": -1},
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, tt.path, tt.userID, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.check != nil {
				tt.check(t, decode[errorResponse](t, w))
			}
		})
	}

	w = s.do(t, http.MethodPost, path, bob, PostBidRequest{BidAmount: 120_000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	outbid := decode[BidResponse](t, w)
	require.NotNil(t, outbid.PreviousBidderID)
	assert.Equal(t, alice, *outbid.PreviousBidderID)

	w = s.do(t, http.MethodGet, path, uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Count int       `json:"count"`
		Bids  []BidView `json:"bids"`
	}](t, w)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, bob, list.Bids[0].UserID)
	assert.Equal(t, int64(120_000), list.Bids[0].BidAmount)
}

func TestPurchaseAndOrders(t *testing.T) {
	s := setupServer(t)
	buyer := uuid.New()
	s.deposit(t, buyer, 200_000)
	artwork := s.createFixed(t, 100_000)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/artworks/%s/purchase", artwork.ID), buyer, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[OrderView](t, w)
	assert.Equal(t, int64(110_000), order.Price)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/artworks/%s/purchase", artwork.ID), buyer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not_active", decode[errorResponse](t, w).Error)

	statusPath := fmt.Sprintf("/orders/%s/status", order.ID)
	w = s.do(t, http.MethodPatch, statusPath, buyer, PatchOrderStatusRequest{Status: models.OrderStatusPreparing})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPatch, statusPath, artwork.ArtistID, PatchOrderStatusRequest{Status: models.OrderStatusShipping})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPatch, statusPath, artwork.ArtistID, PatchOrderStatusRequest{Status: models.OrderStatusPreparing})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.OrderStatusPreparing, decode[OrderView](t, w).Status)

	w = s.do(t, http.MethodPatch, fmt.Sprintf("/orders/%s/status", uuid.New()), artwork.ArtistID, PatchOrderStatusRequest{Status: models.OrderStatusShipping})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/orders", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode[struct {
		Count  int         `json:"count"`
		Orders []OrderView `json:"orders"`
	}](t, w)
	require.Equal(t, 1, orders.Count)
	assert.Equal(t, order.ID, orders.Orders[0].ID)

	w = s.do(t, http.MethodGet, "/balance/transactions?limit=10", buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[struct {
		Count        int               `json:"count"`
		Transactions []TransactionView `json:"transactions"`
	}](t, w)
	require.Equal(t, 2, records.Count)
	assert.Equal(t, models.TransactionTypePurchase, records.Transactions[0].Type)
	assert.Equal(t, int64(90_000), records.Transactions[0].BalanceAfter)

	w = s.do(t, http.MethodGet, "/balance/transactions?limit=1000", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostBalanceDeposit(t *testing.T) {
	s := setupServer(t)
	userID := uuid.New()

	w := s.do(t, http.MethodPost, "/balance/deposits", userID, PostDepositRequest{Amount: 5_000, Description: "<b>bank</b> transfer"})
	require.Equal(t, http.StatusCreated, w.Code)
	record := decode[TransactionView](t, w)
	assert.Equal(t, models.TransactionTypeDeposit, record.Type)
	assert.Equal(t, "bank transfer", record.Description)
	assert.Equal(t, int64(5_000), record.BalanceAfter)

	w = s.do(t, http.MethodPost, "/balance/deposits", userID, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostSettleAuctions(t *testing.T) {
	s := setupServer(t)
	winner := uuid.New()
	s.deposit(t, winner, 200_000)
	artwork := s.createAuction(t, 100_000, time.Hour)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/artworks/%s/bids", artwork.ID), winner, PostBidRequest{BidAmount: 110_000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 將拍賣結束時間調到過去
	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.db.Model(&models.Artwork{}).Where("id = ?", artwork.ID).Update("auction_end_time", past).Error)

	w = s.do(t, http.MethodPost, "/internal/auctions/settle", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processedCount":1}`, w.Body.String())

	w = s.do(t, http.MethodPost, "/internal/auctions/settle", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processedCount":0}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/balance", winner, nil)
	snapshot := decode[ledger.Snapshot](t, w)
	assert.Equal(t, int64(90_000), snapshot.Total)
	assert.Equal(t, int64(0), snapshot.EscrowHeld)
}

func TestHealth(t *testing.T) {
	s := setupServer(t)

	w := s.do(t, http.MethodGet, "/healthz", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.impl.Start()
	w = s.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "polling", decode[map[string]any](t, w)["notifyMode"])

	// 輪詢模式下 Redis 中斷只算降級，出價改用資料庫列鎖
	bidder := uuid.New()
	s.deposit(t, bidder, 200_000)
	artwork := s.createAuction(t, 100_000, time.Hour)
	s.mr.Close()
	w = s.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "unavailable", decode[map[string]any](t, w)["redis"])

	w = s.do(t, http.MethodPost, fmt.Sprintf("/artworks/%s/bids", artwork.ID), bidder, PostBidRequest{BidAmount: 110_000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, bidder, decode[BidResponse](t, w).HighestBidderID)
}

func TestReadyz_StrictLock(t *testing.T) {
	s := setupServer(t, func(config *ServerConfig) {
		config.Auction.StrictLock = true
	})
	s.impl.Start()
	s.mr.Close()

	w := s.do(t, http.MethodGet, "/readyz", uuid.Nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetBalanceEvents(t *testing.T) {
	s := setupServer(t)
	s.impl.heartbeat = 20 * time.Millisecond
	s.impl.Start()
	server := httptest.NewServer(s.router)
	defer server.Close()

	userID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/balance/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan notify.BalanceEvent, 4)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var event notify.BalanceEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &event); err != nil {
				continue
			}
			events <- event
		}
	}()

	next := func() notify.BalanceEvent {
		select {
		case event, ok := <-events:
			require.True(t, ok, "stream closed")
			return event
		case <-time.After(3 * time.Second):
			t.Fatal("timeout waiting for balance event")
		}
		return notify.BalanceEvent{}
	}

	initial := next()
	assert.Equal(t, userID.String(), initial.UserID)
	assert.Equal(t, int64(0), initial.TotalBalance)

	s.deposit(t, userID, 50_000)
	updated := next()
	assert.Equal(t, int64(50_000), updated.TotalBalance)
	assert.Equal(t, int64(50_000), updated.AvailableBalance)
}
