package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"artbid/auction"
	"artbid/ledger"
)

func errorBody(code, message string) gin.H {
	return gin.H{
		"error":   code,
		"message": message,
	}
}

// writeError 將服務層的錯誤轉換成 HTTP 回應
func (impl *ServerImpl) writeError(c *gin.Context, op string, err error) {
	var (
		validationErr   *auction.ValidationError
		insufficientErr *ledger.InsufficientBalanceError
		invariantErr    *ledger.InvariantViolationError
	)
	switch {
	case errors.As(err, &validationErr):
		if validationErr.Reason == auction.ReasonNotFound {
			c.JSON(http.StatusNotFound, errorBody(string(validationErr.Reason), validationErr.Error()))
			return
		}
		body := errorBody(string(validationErr.Reason), validationErr.Error())
		if validationErr.MinimumBid > 0 {
			body["minimumBid"] = validationErr.MinimumBid
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &insufficientErr):
		body := errorBody("insufficient_balance", "available balance is not enough")
		body["required"] = insufficientErr.Required
		body["available"] = insufficientErr.Available
		c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, auction.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, errorBody("conflict", "the artwork is busy, please retry"))
	case errors.Is(err, auction.ErrRequestIDReused):
		c.JSON(http.StatusConflict, errorBody("request_id_reused", auction.ErrRequestIDReused.Error()))
	case errors.Is(err, auction.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorBody("invalid_transition", auction.ErrInvalidTransition.Error()))
	case errors.Is(err, auction.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", "resource not found"))
	case errors.Is(err, auction.ErrForbidden):
		c.JSON(http.StatusForbidden, errorBody("forbidden", "permission denied"))
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, errorBody("invalid_amount", ledger.ErrInvalidAmount.Error()))
	case errors.As(err, &invariantErr):
		impl.logger.Error("Ledger invariant violated", slog.String("op", op), slog.String("user", invariantErr.UserID.String()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, errorBody("ledger_invariant_violation", "internal error"))
	default:
		impl.logger.Error("Unexpected error", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, errorBody("internal", "internal error"))
	}
}
