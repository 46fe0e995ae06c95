package scoring

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nurbekov/fraudscore/internal/logging"
	"github.com/nurbekov/fraudscore/internal/validation"
)

// maxBatchSize caps one batch request; larger datasets go through repeated
// calls.
const maxBatchSize = 1000

// ModelInfo is the read-only model descriptor served by GET /v1/model.
type ModelInfo struct {
	Version          string     `json:"model_version"`
	Threshold        float64    `json:"threshold"`
	EnsembleWeights  [3]float64 `json:"ensemble_weights"`
	NumFeatures      int        `json:"num_features"`
	DirectionClasses []string   `json:"direction_classes"`
}

// Handler exposes the scoring engine over HTTP.
type Handler struct {
	engine *Engine
	store  Store // may be nil (audit trail disabled)
	info   ModelInfo
}

// NewHandler creates the scoring HTTP handler.
func NewHandler(engine *Engine, store Store, info ModelInfo) *Handler {
	return &Handler{engine: engine, store: store, info: info}
}

// RegisterRoutes registers the scoring endpoints on a router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/predict", h.Predict)
	rg.POST("/predict/batch", h.PredictBatch)
	rg.GET("/stats", h.GetStats)
	rg.GET("/model", h.GetModel)
	rg.GET("/customers/:id/scores", validation.CustomerIDParamMiddleware(), h.ListCustomerScores)
}

// transactionRequest is the wire shape of one transaction. Field names
// follow the upstream dataset; pointers distinguish missing from zero.
type transactionRequest struct {
	ID                 *int64             `json:"id"`
	CustomerID         *int64             `json:"cst_dim_id"`
	Amount             *float64           `json:"amount"`
	Direction          *string            `json:"direction"`
	Timestamp          *time.Time         `json:"transdatetime"`
	Target             *int               `json:"target"`
	BehavioralPatterns map[string]float64 `json:"behavioral_patterns"`
}

// toTransaction validates required fields and converts to the engine type.
// Returns the missing field name on failure.
func (r *transactionRequest) toTransaction() (*Transaction, string) {
	switch {
	case r.CustomerID == nil:
		return nil, "cst_dim_id"
	case r.Amount == nil:
		return nil, "amount"
	case r.Direction == nil:
		return nil, "direction"
	case r.Timestamp == nil:
		return nil, "transdatetime"
	}

	tx := &Transaction{
		CustomerID: *r.CustomerID,
		Amount:     *r.Amount,
		Direction:  *r.Direction,
		Timestamp:  *r.Timestamp,
		Target:     r.Target,
	}
	if r.ID != nil {
		tx.ID = *r.ID
	}
	return tx, ""
}

// Predict handles POST /v1/predict.
func (h *Handler) Predict(c *gin.Context) {
	ctx := c.Request.Context()

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	tx, missing := req.toTransaction()
	if missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Missing required field: " + missing,
		})
		return
	}

	result, err := h.engine.ScoreTransaction(ctx, tx, req.BehavioralPatterns)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verr.Error(),
			})
			return
		}
		logging.L(ctx).Error("scoring failed",
			"customer_id", tx.CustomerID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "scoring_failed",
			"message": "Failed to score transaction",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// batchRequest is the wire shape of POST /v1/predict/batch. Behavioral
// patterns are keyed by customer id (JSON object keys are strings).
type batchRequest struct {
	Transactions       []transactionRequest          `json:"transactions"`
	BehavioralPatterns map[string]map[string]float64 `json:"behavioral_patterns"`
}

// PredictBatch handles POST /v1/predict/batch.
func (h *Handler) PredictBatch(c *gin.Context) {
	ctx := c.Request.Context()

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if len(req.Transactions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "transactions must not be empty",
		})
		return
	}
	if len(req.Transactions) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "batch_too_large",
			"message": "At most " + strconv.Itoa(maxBatchSize) + " transactions per batch",
		})
		return
	}

	txs := make([]*Transaction, 0, len(req.Transactions))
	for i, r := range req.Transactions {
		tx, missing := r.toTransaction()
		if missing != "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "Transaction " + strconv.Itoa(i) + ": missing required field: " + missing,
			})
			return
		}
		txs = append(txs, tx)
	}

	var patterns map[int64]map[string]float64
	if len(req.BehavioralPatterns) > 0 {
		patterns = make(map[int64]map[string]float64, len(req.BehavioralPatterns))
		for key, p := range req.BehavioralPatterns {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "validation_error",
					"message": "behavioral_patterns key is not a customer id: " + key,
				})
				return
			}
			patterns[id] = p
		}
	}

	results, err := h.engine.ScoreBatch(ctx, txs, patterns)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verr.Error(),
			})
			return
		}
		logging.L(ctx).Error("batch scoring failed", "size", len(txs), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "scoring_failed",
			"message": "Failed to score batch",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

// GetStats handles GET /v1/stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Stats())
}

// GetModel handles GET /v1/model.
func (h *Handler) GetModel(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}

// ListCustomerScores handles GET /v1/customers/:id/scores, the audit trail
// for one customer, most recent first, cursor-paginated.
func (h *Handler) ListCustomerScores(c *gin.Context) {
	ctx := c.Request.Context()

	customerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_customer_id",
			"message": "Customer id must be an integer",
		})
		return
	}

	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "audit_disabled",
			"message": "Scoring audit trail is not enabled",
		})
		return
	}

	limit := DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events, next, err := h.store.ListByCustomer(ctx, customerID, limit, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}
	if events == nil {
		events = []*Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"customer_id": customerID,
		"scores":      events,
		"count":       len(events),
		"next_cursor": next,
		"has_more":    next != "",
	})
}
