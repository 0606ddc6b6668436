// Package record is the HTTP write surface: the command front-end posts
// validated heists and sales here, and the service applies them to the ledger.
package record

import (
	"github.com/gin-gonic/gin"

	"github.com/vantari-rp/tally/internal/ledger"
)

type Service struct {
	ledger *ledger.Service
}

func NewService(led *ledger.Service) *Service {
	if led == nil {
		panic("record: ledger must not be nil")
	}
	return &Service{ledger: led}
}

// RegisterRoutes registers the record service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/heists", s.RecordHeistHandler)
	r.POST("/v1/sales", s.RecordSaleHandler)
}
