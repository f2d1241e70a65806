package transactions

import (
	"time"

	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/pkg/response"
	"cryptofolio-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handlers serves transaction endpoints.
type Handlers struct {
	Store *ledger.Store
}

// CreateRequest is the body of POST /transactions. Date defaults to now.
type CreateRequest struct {
	AssetID   string              `json:"assetId"`
	Type      domain.TxType       `json:"type"`
	Amount    decimal.Decimal     `json:"amount"`
	Price     decimal.NullDecimal `json:"price"`
	Date      *time.Time          `json:"date"`
	ToAssetID *string             `json:"toAssetId"`
	ToAmount  decimal.NullDecimal `json:"toAmount"`
	ToPrice   decimal.NullDecimal `json:"toPrice"`
	Notes     *string             `json:"notes"`
}

// UpdateRequest is the body of PATCH /transactions/:id. Financial fields cannot change.
type UpdateRequest struct {
	Notes *string    `json:"notes"`
	Date  *time.Time `json:"date"`
}

// Create POST /api/v1/transactions: record a transaction and apply it to the balance.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	assetID, err := validation.ParseID(req.AssetID, "assetId")
	if err != nil {
		return err
	}
	in := domain.NewTransaction{
		AssetID:  assetID,
		Type:     req.Type,
		Amount:   req.Amount,
		Price:    req.Price,
		ToAmount: req.ToAmount,
		ToPrice:  req.ToPrice,
		Notes:    req.Notes,
		Source:   domain.SourceManual,
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	if req.ToAssetID != nil && *req.ToAssetID != "" {
		to, err := validation.ParseID(*req.ToAssetID, "toAssetId")
		if err != nil {
			return err
		}
		in.ToAssetID = &to
	}
	t, err := h.Store.CreateTransaction(c.Context(), in)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Transaction recorded", t, nil)
}

// Get GET /api/v1/transactions/:id.
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	t, err := h.Store.GetTransaction(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Transaction retrieved", t, nil)
}

// List GET /api/v1/transactions?assetId=: the transactions touching one asset.
func (h *Handlers) List(c *fiber.Ctx) error {
	assetID, err := validation.ParseID(c.Query("assetId"), "assetId")
	if err != nil {
		return err
	}
	txs, err := h.Store.ListTransactions(c.Context(), ledger.TxFilter{AssetID: &assetID})
	if err != nil {
		return err
	}
	return response.Success(c, "Transactions retrieved", txs, fiber.Map{"count": len(txs)})
}

// Update PATCH /api/v1/transactions/:id.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	t, err := h.Store.UpdateTransaction(c.Context(), id, domain.TransactionUpdate{Notes: req.Notes, Date: req.Date})
	if err != nil {
		return err
	}
	return response.Success(c, "Transaction updated", t, nil)
}

// Delete DELETE /api/v1/transactions/:id: remove it and reverse its balance effect.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	if err := h.Store.DeleteTransaction(c.Context(), id); err != nil {
		return err
	}
	return response.Success(c, "Transaction deleted", fiber.Map{"id": id}, nil)
}
