package portfolios

import (
	"slices"
	"strings"

	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/middleware"
	"cryptofolio-backend/internal/pkg/response"
	"cryptofolio-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves portfolio, summary and chart endpoints.
type Handlers struct {
	Store   *ledger.Store
	Service *portfolio.Service
	Session middleware.SessionConfig
}

// CreateRequest is the body of POST /portfolios.
type CreateRequest struct {
	Name             string `json:"name"`
	IncludeInSummary *bool  `json:"includeInSummary"`
}

// ConnectWalletRequest is the body of POST /portfolios/connect-wallet. Address may
// be a hex address or an ENS name.
type ConnectWalletRequest struct {
	Address          string `json:"address"`
	IncludeInSummary *bool  `json:"includeInSummary"`
}

// UpdateRequest is the body of PATCH /portfolios/:id.
type UpdateRequest struct {
	Name             *string `json:"name"`
	IncludeInSummary *bool   `json:"includeInSummary"`
}

// ChartResponse is a chart series ready for JSON.
type ChartResponse struct {
	Timeframe string              `json:"timeframe"`
	Synthetic bool                `json:"synthetic"`
	Points    []domain.ValuePoint `json:"points"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// List GET /api/v1/portfolios: the caller's portfolios (anonymous ones when logged out).
func (h *Handlers) List(c *fiber.Ctx) error {
	ps, err := h.Store.ListPortfolios(c.Context(), ledger.PortfolioFilter{UserID: middleware.UserID(c)})
	if err != nil {
		return err
	}
	return response.Success(c, "Portfolios retrieved", ps, fiber.Map{"count": len(ps)})
}

// Create POST /api/v1/portfolios.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	p, err := h.Store.CreatePortfolio(c.Context(), domain.NewPortfolio{
		Name:             req.Name,
		UserID:           middleware.UserID(c),
		IncludeInSummary: boolOr(req.IncludeInSummary, true),
	})
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Portfolio created", p, nil)
}

// ConnectWallet POST /api/v1/portfolios/connect-wallet: reuse or create the wallet
// portfolio and make it the active one.
func (h *Handlers) ConnectWallet(c *fiber.Ctx) error {
	var req ConnectWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	if strings.TrimSpace(req.Address) == "" {
		return domain.Invalid("address is required")
	}
	res, err := h.Service.ConnectWallet(c.Context(), req.Address, boolOr(req.IncludeInSummary, true), middleware.UserID(c))
	if err != nil {
		return err
	}
	middleware.SetActivePortfolio(c, h.Session, res.Portfolio.ID)
	if res.Created {
		return response.SuccessCreated(c, "Wallet connected", res, nil)
	}
	return response.Success(c, "Wallet already connected", res, nil)
}

// Activate POST /api/v1/portfolios/:id/activate.
func (h *Handlers) Activate(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	if _, err := h.Store.GetPortfolio(c.Context(), id); err != nil {
		return err
	}
	middleware.SetActivePortfolio(c, h.Session, id)
	return response.Success(c, "Active portfolio set", fiber.Map{"portfolioId": id}, nil)
}

// Active GET /api/v1/portfolios/active.
func (h *Handlers) Active(c *fiber.Ctx) error {
	return response.Success(c, "Active portfolio", fiber.Map{"portfolioId": middleware.ActivePortfolio(c)}, nil)
}

// Get GET /api/v1/portfolios/:id: the portfolio with priced assets and overview.
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	view, err := h.Service.Valued(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Portfolio retrieved", view, nil)
}

// Update PATCH /api/v1/portfolios/:id: rename or toggle the summary flag.
func (h *Handlers) Update(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Invalid("invalid request body")
	}
	p, err := h.Store.UpdatePortfolio(c.Context(), id, domain.PortfolioUpdate{
		Name:             req.Name,
		IncludeInSummary: req.IncludeInSummary,
	})
	if err != nil {
		return err
	}
	return response.Success(c, "Portfolio updated", p, nil)
}

// Delete DELETE /api/v1/portfolios/:id: remove the portfolio with its assets and transactions.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	if err := h.Service.DeletePortfolio(c.Context(), id); err != nil {
		return err
	}
	middleware.ClearActivePortfolio(c, id)
	return response.Success(c, "Portfolio deleted", fiber.Map{"id": id}, nil)
}

// Assets GET /api/v1/portfolios/:id/assets.
func (h *Handlers) Assets(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	view, err := h.Service.Valued(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Assets retrieved", view.Assets, fiber.Map{"count": len(view.Assets)})
}

// Overview GET /api/v1/portfolios/:id/overview.
func (h *Handlers) Overview(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	ov, err := h.Service.Overview(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Overview retrieved", ov, nil)
}

// Transactions GET /api/v1/portfolios/:id/transactions.
func (h *Handlers) Transactions(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	txs, err := h.Service.TransactionViews(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Transactions retrieved", txs, fiber.Map{"count": len(txs)})
}

// Chart GET /api/v1/portfolios/:id/chart?timeframe=7d.
func (h *Handlers) Chart(c *fiber.Ctx) error {
	id, err := validation.ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	series, err := h.Service.ChartSeries(c.Context(), c.Query("timeframe"), &id, nil)
	if err != nil {
		return err
	}
	return response.Success(c, "Chart retrieved", chart(series), nil)
}

// Summary GET /api/v1/summary: aggregate overview of the caller's included portfolios.
func (h *Handlers) Summary(c *fiber.Ctx) error {
	sum, err := h.Service.Summary(c.Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return response.Success(c, "Summary retrieved", sum, nil)
}

// SummaryChart GET /api/v1/summary/chart?timeframe=30d.
func (h *Handlers) SummaryChart(c *fiber.Ctx) error {
	series, err := h.Service.ChartSeries(c.Context(), c.Query("timeframe"), nil, middleware.UserID(c))
	if err != nil {
		return err
	}
	return response.Success(c, "Chart retrieved", chart(series), nil)
}

func chart(s *portfolio.Series) ChartResponse {
	return ChartResponse{
		Timeframe: s.Timeframe,
		Synthetic: s.Synthetic,
		Points:    slices.Collect(s.Points),
	}
}
