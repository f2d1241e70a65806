package assets

import (
	"bytes"
	"encoding/json"

	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/pkg/response"
	"cryptofolio-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handlers serves asset mutations. Reads go through the portfolio endpoints.
type Handlers struct {
	Store   *ledger.Store
	Service *portfolio.Service
}

// CreateRequest is the body of POST /assets.
type CreateRequest struct {
	PortfolioID string              `json:"portfolioId"`
	Name        string              `json:"name"`
	Symbol      string              `json:"symbol"`
	PriceID     string              `json:"priceId"`
	Balance     decimal.Decimal     `json:"balance"`
	AvgBuyPrice decimal.NullDecimal `json:"avgBuyPrice"`
	ImageURL    *string             `json:"imageUrl"`
}

// UpdateRequest is the body of PATCH /assets/:id. AvgBuyPrice is kept raw so an
// explicit null (clear the cost basis) differs from an absent field.
type UpdateRequest struct {
	Name        *string          `json:"name"`
	Symbol      *string          `json:"symbol"`
	PriceID     *string          `json:"priceId"`
	Balance     *decimal.Decimal `json:"balance"`
	AvgBuyPrice json.RawMessage  `json:"avgBuyPrice"`
	ImageURL    *string          `json:"imageUrl"`
}

// TransferRequest is the body of POST /assets/:id/transfer.
type TransferRequest struct {
	TargetPortfolioID string          `json:"targetPortfolioId"`
	Amount            decimal.Decimal `json:"amount"`
}

// Create POST /api/v1/assets: add a holding, merging into an existing symbol.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	pid, err := validation.ParseID(req.PortfolioID, "portfolioId")
	if err != nil {
		return err
	}
	a, err := h.Store.CreateAsset(c.Context(), domain.NewAsset{
		PortfolioID: pid,
		Name:        req.Name,
		Symbol:      req.Symbol,
		PriceID:     req.PriceID,
		Balance:     req.Balance,
		AvgBuyPrice: req.AvgBuyPrice,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Asset saved", a, nil)
}

// Update PATCH /api/v1/assets/:id.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	upd := domain.AssetUpdate{
		Name:     req.Name,
		Symbol:   req.Symbol,
		PriceID:  req.PriceID,
		Balance:  req.Balance,
		ImageURL: req.ImageURL,
	}
	if len(req.AvgBuyPrice) > 0 {
		avg, err := nullDecimal(req.AvgBuyPrice)
		if err != nil {
			return err
		}
		upd.AvgBuyPrice = &avg
	}
	a, err := h.Store.UpdateAsset(c.Context(), id, upd)
	if err != nil {
		return err
	}
	return response.Success(c, "Asset updated", a, nil)
}

func nullDecimal(raw json.RawMessage) (decimal.NullDecimal, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return decimal.NullDecimal{}, nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.NullDecimal{}, domain.Invalid("avgBuyPrice must be a number or null")
	}
	return decimal.NewNullDecimal(d), nil
}

// Delete DELETE /api/v1/assets/:id: remove the asset and its transactions.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	if err := h.Store.DeleteAsset(c.Context(), id); err != nil {
		return err
	}
	return response.Success(c, "Asset deleted", fiber.Map{"id": id}, nil)
}

// Transfer POST /api/v1/assets/:id/transfer: move part of a holding to another portfolio.
func (h *Handlers) Transfer(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	target, err := validation.ParseID(req.TargetPortfolioID, "targetPortfolioId")
	if err != nil {
		return err
	}
	res, err := h.Service.TransferAsset(c.Context(), id, target, req.Amount)
	if err != nil {
		return err
	}
	return response.Success(c, "Asset transferred", res, nil)
}
