package market

import (
	"strings"

	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/prices"
	"cryptofolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const maxQuoteIDs = 50

// Handlers exposes market data.
type Handlers struct {
	Cache     *prices.Cache
	Valuation *valuation.Service
}

// Prices GET /api/v1/market/prices: the snapshot kept warm by the refresher.
func (h *Handlers) Prices(c *fiber.Ctx) error {
	snap := h.Cache.Load()
	return response.Success(c, "Prices retrieved", snap.List(), fiber.Map{
		"count":     len(snap.Quotes),
		"updatedAt": snap.UpdatedAt,
	})
}

// Quotes GET /api/v1/market/quotes?ids=bitcoin,ethereum: quotes for arbitrary ids,
// served from the cache when fresh and fetched otherwise.
func (h *Handlers) Quotes(c *fiber.Ctx) error {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return domain.Invalid("ids is required")
	}
	if len(ids) > maxQuoteIDs {
		return domain.Invalid("at most %d ids per request", maxQuoteIDs)
	}
	quotes, err := h.Valuation.StrictQuotes(c.Context(), ids)
	if err != nil {
		return err
	}
	return response.Success(c, "Quotes retrieved", quotes, fiber.Map{"count": len(quotes)})
}
