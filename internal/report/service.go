// Package report is the HTTP read surface over the aggregate state: weekly
// summaries, live daily limits, and the archived weekly artifacts. Everything
// here is a pure read; the chat renderer and the dashboard are its consumers.
package report

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/vantari-rp/tally/internal/catalog"
	httperr "github.com/vantari-rp/tally/internal/core/errors"
	"github.com/vantari-rp/tally/internal/ledger"
	"github.com/vantari-rp/tally/internal/limiter"
	"github.com/vantari-rp/tally/internal/rollover"
)

// archiveListLimit caps the download menu at the most recent artifacts.
const archiveListLimit = 24

type Service struct {
	ledger   *ledger.Service
	limiter  *limiter.DailyLimiter
	archives *rollover.ArchiveRepository
}

func NewService(led *ledger.Service, lim *limiter.DailyLimiter, archives *rollover.ArchiveRepository) *Service {
	if led == nil || lim == nil || archives == nil {
		panic("report: all collaborators must be non-nil")
	}
	return &Service{ledger: led, limiter: lim, archives: archives}
}

// RegisterRoutes registers the report service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/summary", s.SummaryHandler)
	r.GET("/v1/summary/:tier", s.TierSummaryHandler)
	r.GET("/v1/sales/summary", s.SalesSummaryHandler)
	r.GET("/v1/limits", s.LimitsHandler)
	r.GET("/v1/archives", s.ListArchivesHandler)
	r.GET("/v1/archives/:name", s.DownloadArchiveHandler)
}

// SummaryHandler returns the full weekly heist table, every tier.
func (s *Service) SummaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": s.ledger.SummarizeAll(c.Request.Context())})
}

// TierSummaryHandler returns one tier of the weekly heist table.
func (s *Service) TierSummaryHandler(c *gin.Context) {
	summary, err := s.ledger.Summarize(c.Request.Context(), catalog.Tier(c.Param("tier")))
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownEntityError,
			Message:   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// SalesSummaryHandler returns the weekly sales registry per faction.
func (s *Service) SalesSummaryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"factions": s.ledger.SalesSummary(c.Request.Context())})
}

// LimitsHandler returns the live daily-limit usage, busiest subjects first.
func (s *Service) LimitsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subjects": s.limiter.Snapshot()})
}

// ListArchivesHandler returns the most recent archive artifact names.
func (s *Service) ListArchivesHandler(c *gin.Context) {
	names, err := s.archives.List(archiveListLimit)
	if err != nil {
		slog.Error("Failed to list archives", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list archives",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": names})
}

// DownloadArchiveHandler streams one artifact as a text attachment.
func (s *Service) DownloadArchiveHandler(c *gin.Context) {
	name := c.Param("name")
	content, err := s.archives.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpNotFoundError,
				Message:   "Archive not available",
				Details:   map[string]interface{}{"name": name},
			})
			return
		}
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid artifact name",
			Details:   map[string]interface{}{"name": name},
		})
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
}
