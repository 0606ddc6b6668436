package record

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	httperr "github.com/vantari-rp/tally/internal/core/errors"
	"github.com/vantari-rp/tally/internal/ledger"
	"github.com/vantari-rp/tally/internal/limiter"
)

const (
	msgInvalidJSON   = "Invalid JSON body"
	msgRecordFailed  = "Failed to record event"
	msgLimitExceeded = "Daily limit exceeded"
)

// HeistRequest is the POST /v1/heists body.
type HeistRequest struct {
	Establishment string   `json:"establishment" binding:"required"`
	Success       *bool    `json:"success" binding:"required"`
	Participants  []string `json:"participants" binding:"required"`
}

// SaleRequest is the POST /v1/sales body.
type SaleRequest struct {
	Faction string          `json:"faction" binding:"required"`
	Seller  string          `json:"seller" binding:"required"`
	Items   map[string]int  `json:"items" binding:"required"`
	Price   decimal.Decimal `json:"price"`
}

// RecordHeistHandler applies one heist attempt to the weekly table.
func (s *Service) RecordHeistHandler(c *gin.Context) {
	var req HeistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
		})
		return
	}

	err := s.ledger.RecordHeist(c.Request.Context(), req.Establishment, *req.Success, req.Participants)
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	slog.Info("Heist recorded",
		"establishment", req.Establishment,
		"success", *req.Success,
		"participants", len(req.Participants),
	)
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

// RecordSaleHandler applies one finalized sale to the weekly registry.
func (s *Service) RecordSaleHandler(c *gin.Context) {
	var req SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
		})
		return
	}

	err := s.ledger.RecordSale(c.Request.Context(), req.Faction, req.Seller, req.Items, req.Price)
	if err != nil {
		writeLedgerError(c, err)
		return
	}

	slog.Info("Sale recorded", "faction", req.Faction, "products", len(req.Items))
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

// writeLedgerError maps domain errors to their HTTP shapes. Validation errors
// name the offending key or subject; infrastructure failures stay generic so
// no file paths leak to the caller.
func writeLedgerError(c *gin.Context, err error) {
	var unknown *ledger.UnknownEntityError
	if errors.As(err, &unknown) {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownEntityError,
			Message:   unknown.Error(),
			Details:   map[string]interface{}{"kind": unknown.Kind, "key": unknown.Key},
		})
		return
	}

	var limitErr *limiter.LimitExceededError
	if errors.As(err, &limitErr) {
		c.JSON(http.StatusTooManyRequests, httperr.ErrorResponse{
			ErrorType: httperr.HttpLimitExceededError,
			Message:   msgLimitExceeded,
			Details:   map[string]interface{}{"subject": limitErr.Subject, "ceiling": limitErr.Ceiling},
		})
		return
	}

	var invalid *ledger.ValidationError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   invalid.Error(),
		})
		return
	}

	slog.Error("Failed to record event", "error", err)
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   msgRecordFailed,
	})
}
