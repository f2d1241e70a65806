package portfolios

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/history"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/memory"
	"cryptofolio-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChain struct{}

func (stubChain) ResolveIdentity(ctx context.Context, nameOrAddress string) (domain.Identity, error) {
	if nameOrAddress == "vitalik.eth" {
		return domain.Identity{Address: "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", DisplayName: "vitalik.eth"}, nil
	}
	return domain.Identity{Address: strings.ToLower(nameOrAddress)}, nil
}

func (stubChain) ReadBalances(ctx context.Context, address string) ([]domain.ChainBalance, error) {
	return []domain.ChainBalance{{AssetKey: "ETH", Symbol: "ETH", Name: "Ethereum", PriceID: "ethereum", Balance: decimal.RequireFromString("2")}}, nil
}

type stubQuotes map[string]domain.Quote

func (s stubQuotes) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	out := make(map[string]domain.Quote)
	for _, id := range ids {
		if q, ok := s[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func setup(t *testing.T) (*Handlers, *fiber.App) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	store := ledger.NewStore(memory.New())
	quotes := stubQuotes{"ethereum": {ID: "ethereum", Price: decimal.NewFromInt(3000), PercentChange24h: decimal.Zero}}
	svc := portfolio.NewService(store, valuation.NewService(quotes, 0), stubChain{}, history.New(rdb),
		portfolio.KeyFuncs{Portfolio: history.PortfolioKey, Summary: history.SummaryKey})
	h := &Handlers{Store: store, Service: svc}

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(middleware.Session(rdb))
	app.Get("/portfolios", h.List)
	app.Post("/portfolios", h.Create)
	app.Post("/portfolios/connect-wallet", h.ConnectWallet)
	app.Get("/portfolios/active", h.Active)
	app.Get("/portfolios/:id", h.Get)
	app.Patch("/portfolios/:id", h.Update)
	app.Delete("/portfolios/:id", h.Delete)
	app.Post("/portfolios/:id/activate", h.Activate)
	app.Get("/portfolios/:id/assets", h.Assets)
	app.Get("/portfolios/:id/overview", h.Overview)
	app.Get("/portfolios/:id/transactions", h.Transactions)
	app.Get("/portfolios/:id/chart", h.Chart)
	app.Get("/summary", h.Summary)
	app.Get("/summary/chart", h.SummaryChart)
	return h, app
}

func do(t *testing.T, app *fiber.App, method, path string, body interface{}, cookie string) (int, map[string]interface{}, *http.Response) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out, resp
}

func data(out map[string]interface{}) map[string]interface{} {
	return out["data"].(map[string]interface{})
}

func cookieOf(resp *http.Response) string {
	for _, c := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(c, middleware.SessionCookieName+"=") {
			return strings.SplitN(c, ";", 2)[0]
		}
	}
	return ""
}

func TestCreateListUpdateDelete(t *testing.T) {
	_, app := setup(t)

	status, out, _ := do(t, app, "POST", "/portfolios", map[string]string{"name": "Long term"}, "")
	require.Equal(t, fiber.StatusCreated, status)
	p := data(out)
	assert.Equal(t, "Long term", p["name"])
	assert.Equal(t, true, p["includeInSummary"])
	id := p["id"].(string)

	status, out, _ = do(t, app, "GET", "/portfolios", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, out, _ = do(t, app, "PATCH", "/portfolios/"+id, map[string]interface{}{"name": "HODL", "includeInSummary": false}, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "HODL", data(out)["name"])
	assert.Equal(t, false, data(out)["includeInSummary"])

	status, _, _ = do(t, app, "PATCH", "/portfolios/"+id, map[string]string{"name": "  "}, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, _ = do(t, app, "DELETE", "/portfolios/"+id, nil, "")
	require.Equal(t, fiber.StatusOK, status)

	status, out, _ = do(t, app, "GET", "/portfolios/"+id, nil, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "not_found", details["kind"])
}

func TestCreateRejectsBadInput(t *testing.T) {
	_, app := setup(t)

	status, _, _ := do(t, app, "POST", "/portfolios", map[string]string{"name": ""}, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _, _ = do(t, app, "GET", "/portfolios/not-a-uuid", nil, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestConnectWalletSetsActivePortfolio(t *testing.T) {
	_, app := setup(t)

	status, out, resp := do(t, app, "POST", "/portfolios/connect-wallet", map[string]string{"address": "vitalik.eth"}, "")
	require.Equal(t, fiber.StatusCreated, status)
	res := data(out)
	assert.Equal(t, true, res["created"])
	id := res["portfolio"].(map[string]interface{})["id"].(string)
	cookie := cookieOf(resp)
	require.NotEmpty(t, cookie)

	status, out, _ = do(t, app, "GET", "/portfolios/active", nil, cookie)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, id, data(out)["portfolioId"])

	status, out, _ = do(t, app, "POST", "/portfolios/connect-wallet", map[string]string{"address": "vitalik.eth"}, cookie)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, data(out)["created"])

	status, out, _ = do(t, app, "GET", "/portfolios/"+id+"/assets", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assets := out["data"].([]interface{})
	require.Len(t, assets, 1)
	assert.Equal(t, "6000", assets[0].(map[string]interface{})["value"])

	status, _, _ = do(t, app, "DELETE", "/portfolios/"+id, nil, cookie)
	require.Equal(t, fiber.StatusOK, status)
	_, out, _ = do(t, app, "GET", "/portfolios/active", nil, cookie)
	assert.Nil(t, data(out)["portfolioId"])
}

func TestConnectWalletRequiresAddress(t *testing.T) {
	_, app := setup(t)
	status, _, _ := do(t, app, "POST", "/portfolios/connect-wallet", map[string]string{"address": " "}, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestActivateUnknownPortfolio(t *testing.T) {
	_, app := setup(t)
	status, _, _ := do(t, app, "POST", "/portfolios/"+uuid.NewString()+"/activate", nil, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestOverviewTransactionsAndCharts(t *testing.T) {
	h, app := setup(t)
	ctx := context.Background()
	p, err := h.Store.CreatePortfolio(ctx, domain.NewPortfolio{Name: "Main", IncludeInSummary: true})
	require.NoError(t, err)
	a, err := h.Store.CreateAsset(ctx, domain.NewAsset{PortfolioID: p.ID, Symbol: "eth", PriceID: "ethereum"})
	require.NoError(t, err)
	_, err = h.Store.CreateTransaction(ctx, domain.NewTransaction{
		AssetID: a.ID, Type: domain.TxBuy, Amount: decimal.NewFromInt(1),
		Price: decimal.NewNullDecimal(decimal.NewFromInt(2000)),
	})
	require.NoError(t, err)
	id := p.ID.String()

	status, out, _ := do(t, app, "GET", "/portfolios/"+id+"/overview", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "3000", data(out)["totalValue"])

	status, out, _ = do(t, app, "GET", "/portfolios/"+id+"/transactions", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, out, _ = do(t, app, "GET", "/portfolios/"+id+"/chart?timeframe=7d", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	chart := data(out)
	assert.Equal(t, "7d", chart["timeframe"])
	assert.Equal(t, true, chart["synthetic"])
	assert.Len(t, chart["points"], 28)

	status, _, _ = do(t, app, "GET", "/portfolios/"+id+"/chart?timeframe=5m", nil, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out, _ = do(t, app, "GET", "/summary", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "3000", data(out)["totalValue"])
	assert.EqualValues(t, 1, data(out)["portfolioCount"])

	status, out, _ = do(t, app, "GET", "/summary/chart", nil, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "24h", data(out)["timeframe"])
	assert.Len(t, data(out)["points"], 24)
}
