package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"artbid/auction"
	"artbid/models"
	"artbid/notify"
)

type PostBidRequest struct {
	BidAmount int64  `json:"bidAmount" binding:"required,gt=0"`
	RequestID string `json:"requestId" binding:"omitempty,max=64"`
}

type PostDepositRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description" binding:"omitempty,max=255"`
}

type PatchOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

type ListQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// pathID 解析路徑中的 :id，格式錯誤時直接回應 400
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_id", "id must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
}

// Place a bid
// (POST /artworks/{id}/bids)
func (impl *ServerImpl) PostArtworkBid(c *gin.Context) {
	const op = "PostArtworkBid"
	artworkID, ok := pathID(c)
	if !ok {
		return
	}
	var body PostBidRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	// 也接受以 header 帶入的冪等鍵
	requestID := body.RequestID
	if requestID == "" {
		requestID = c.GetHeader("Idempotency-Key")
	}
	if len(requestID) > 64 {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "request id is too long"))
		return
	}

	result, err := impl.service.PlaceBid(c.Request.Context(), auction.BidRequest{
		ArtworkID: artworkID,
		UserID:    currentUser(c),
		BidAmount: body.BidAmount,
		RequestID: requestID,
	})
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, newBidResponse(result))
}

// List bids of an artwork
// (GET /artworks/{id}/bids)
func (impl *ServerImpl) GetArtworkBids(c *gin.Context) {
	const op = "GetArtworkBids"
	artworkID, ok := pathID(c)
	if !ok {
		return
	}
	var query ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		bindError(c, err)
		return
	}
	bids, err := impl.service.ListBids(c.Request.Context(), artworkID, query.Limit)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(bids),
		"bids":  mapViews(bids, newBidView),
	})
}

// Buy a fixed price artwork
// (POST /artworks/{id}/purchase)
func (impl *ServerImpl) PostArtworkPurchase(c *gin.Context) {
	const op = "PostArtworkPurchase"
	artworkID, ok := pathID(c)
	if !ok {
		return
	}
	order, err := impl.service.Purchase(c.Request.Context(), artworkID, currentUser(c))
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, newOrderView(*order))
}

// Get balance snapshot
// (GET /balance)
func (impl *ServerImpl) GetBalance(c *gin.Context) {
	const op = "GetBalance"
	snapshot, err := impl.ledger.GetSnapshot(c.Request.Context(), currentUser(c))
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Deposit funds
// (POST /balance/deposits)
func (impl *ServerImpl) PostBalanceDeposit(c *gin.Context) {
	const op = "PostBalanceDeposit"
	var body PostDepositRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	userID := currentUser(c)
	record, err := impl.ledger.RecordDeposit(c.Request.Context(), userID, body.Amount, body.Description)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	impl.service.NotifyBalance(c.Request.Context(), userID)
	c.JSON(http.StatusCreated, newTransactionView(*record))
}

// List balance transactions
// (GET /balance/transactions)
func (impl *ServerImpl) GetBalanceTransactions(c *gin.Context) {
	const op = "GetBalanceTransactions"
	var query ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		bindError(c, err)
		return
	}
	records, err := impl.ledger.ListTransactions(c.Request.Context(), currentUser(c), query.Limit, query.Offset)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":        len(records),
		"transactions": mapViews(records, newTransactionView),
	})
}

// Track balance events
// (GET /balance/events)
func (impl *ServerImpl) GetBalanceEvents(c *gin.Context) {
	const op = "GetBalanceEvents"
	userID := currentUser(c)
	channel := notify.ChannelName(userID)
	// 先訂閱再讀取目前餘額，避免漏掉中間的變動
	ch, err := impl.sseManager.Subscribe(channel)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	defer impl.sseManager.Unsubscribe(channel, ch)

	snapshot, err := impl.ledger.GetSnapshot(c.Request.Context(), userID)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent("balance", notify.NewBalanceEvent(snapshot, time.Now()))
	w.Flush()

	heartbeat := time.NewTicker(impl.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent("balance", event)
			w.Flush()
		// 一段時間沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-heartbeat.C:
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

// List orders of the current user
// (GET /orders)
func (impl *ServerImpl) GetOrders(c *gin.Context) {
	const op = "GetOrders"
	orders, err := impl.service.ListOrders(c.Request.Context(), currentUser(c))
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(orders),
		"orders": mapViews(orders, newOrderView),
	})
}

// Advance order status
// (PATCH /orders/{id}/status)
func (impl *ServerImpl) PatchOrderStatus(c *gin.Context) {
	const op = "PatchOrderStatus"
	orderID, ok := pathID(c)
	if !ok {
		return
	}
	var body PatchOrderStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	order, err := impl.service.AdvanceOrderStatus(c.Request.Context(), orderID, currentUser(c), body.Status)
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(*order))
}

// Settle expired auctions
// (POST /internal/auctions/settle)
func (impl *ServerImpl) PostSettleAuctions(c *gin.Context) {
	const op = "PostSettleAuctions"
	result, err := impl.service.SettleExpired(c.Request.Context())
	if err != nil {
		impl.writeError(c, op, err)
		return
	}
	impl.logger.Info("Settle triggered by request", slog.Int("processed", result.ProcessedCount))
	c.JSON(http.StatusOK, result)
}

// Liveness probe
// (GET /healthz)
func (impl *ServerImpl) GetHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// Readiness probe
// (GET /readyz)
func (impl *ServerImpl) GetReadyz(c *gin.Context) {
	notReady := func(message string, err error) {
		body := gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": message,
		}
		if err != nil {
			body["error"] = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, body)
	}

	startedAt, ok := impl.started()
	if !ok {
		notReady("server is starting", errServerNotStarted)
		return
	}
	sqlDB, err := impl.db.DB()
	if err != nil {
		notReady("database is unavailable", err)
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		notReady("database is unavailable", err)
		return
	}
	redisStatus := "ok"
	if err := impl.redisClient.Ping(c.Request.Context()).Err(); err != nil {
		// 輪詢模式與資料庫列鎖不依賴 Redis，只回報降級
		if impl.notifyMode != notify.ModePolling || !impl.service.LockFallback() {
			notReady("redis is unavailable", err)
			return
		}
		redisStatus = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"type":       "readiness",
		"notifyMode": impl.notifyMode,
		"redis":      redisStatus,
		"uptime":     time.Since(startedAt).Round(time.Second).String(),
	})
}
