package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shortyai/creditdesk/internal/tier"
)

// ListTiers is public so the sign-in page can show prices.
func (s *Server) ListTiers(c *gin.Context) {
	catalog := s.tiers.Catalog()
	defs := make([]tier.Definition, 0, len(tier.All))
	for _, t := range tier.All {
		def, err := catalog.Lookup(t)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		defs = append(defs, def)
	}
	c.JSON(http.StatusOK, gin.H{"data": defs})
}
