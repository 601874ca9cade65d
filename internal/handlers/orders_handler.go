package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/serverless-snacks/internal/idempotency"
	"github.com/imrishuroy/serverless-snacks/internal/intake"
	"github.com/imrishuroy/serverless-snacks/internal/orders"
)

// HandlerConfig groups dependencies for the orders handler.
type HandlerConfig struct {
	Creator *intake.Service
	Orders  orders.Store
	// Idempotency is optional; without it the Idempotency-Key header is ignored.
	Idempotency *idempotency.Store
	Logger      *zap.SugaredLogger
}

type createdResponse struct {
	Message   string        `json:"message"`
	OrderID   string        `json:"orderId"`
	Status    orders.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
			return
		}

		idempKey := c.GetHeader("Idempotency-Key")
		if cfg.Idempotency == nil {
			idempKey = ""
		}
		if idempKey != "" {
			claimed, err := cfg.Idempotency.Claim(ctx, idempKey)
			if err != nil {
				cfg.Logger.Errorw("idempotency claim failed", "idempotency_key", idempKey, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
				return
			}
			if !claimed {
				replayIdempotent(c, cfg, idempKey)
				return
			}
		}

		order, err := cfg.Creator.CreateFromJSON(ctx, body)
		status, resp := createResult(order, err, cfg.Logger)

		if idempKey != "" {
			remember(c, cfg, idempKey, order, status, resp)
		}
		if status == http.StatusCreated {
			c.Header("Location", fmt.Sprintf("/orders/%s", order.OrderID))
		}
		c.JSON(status, resp)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			cfg.Logger.Errorw("order lookup failed", "order_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if order == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "orderId": c.Param("id")})
			return
		}
		c.JSON(http.StatusOK, order)
	})
}

func createResult(order *orders.Order, err error, logger *zap.SugaredLogger) (int, interface{}) {
	var ve *intake.ValidationError
	var pw *intake.PartialWriteError
	switch {
	case err == nil:
		return http.StatusCreated, createdResponse{
			Message:   "Order created successfully",
			OrderID:   order.OrderID,
			Status:    order.Status,
			Timestamp: order.CreatedAt,
		}
	case errors.As(err, &ve):
		return http.StatusBadRequest, gin.H{"error": "validation_failed", "message": ve.Error(), "fields": ve.Fields}
	case errors.As(err, &pw):
		return http.StatusInternalServerError, gin.H{
			"error":                   "event_publish_failed",
			"orderId":                 pw.Order.OrderID,
			"reconciliation_required": true,
		}
	default:
		logger.Errorw("order creation failed", "error", err)
		return http.StatusInternalServerError, gin.H{"error": "internal_error"}
	}
}

// remember stores the outcome for a claimed key. Once an order exists the
// response is kept, so a retry cannot create a second one; otherwise the key
// is released.
func remember(c *gin.Context, cfg HandlerConfig, key string, order *orders.Order, status int, resp interface{}) {
	ctx := c.Request.Context()
	if order == nil {
		if err := cfg.Idempotency.MarkFailed(ctx, key, fmt.Sprintf("status %d", status)); err != nil {
			cfg.Logger.Warnw("idempotency release failed", "idempotency_key", key, "error", err)
		}
		return
	}
	body, _ := json.Marshal(resp)
	if err := cfg.Idempotency.MarkDone(ctx, key, order.OrderID, string(body), status); err != nil {
		cfg.Logger.Warnw("idempotency record not updated", "idempotency_key", key, "order_id", order.OrderID, "error", err)
	}
}

func replayIdempotent(c *gin.Context, cfg HandlerConfig, key string) {
	rec, err := cfg.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_unavailable"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		if rec.ResponseStatus == http.StatusCreated {
			c.Header("Location", fmt.Sprintf("/orders/%s", rec.OrderID))
		}
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_unavailable"})
	}
}
