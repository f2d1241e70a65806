package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/memory"
	"cryptofolio-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuotes struct {
	quotes map[string]domain.Quote
	err    error
}

func (s *stubQuotes) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.Quote)
	for _, id := range ids {
		if q, ok := s.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

type env struct {
	app    *fiber.App
	store  *ledger.Store
	quotes *stubQuotes
}

func setup(t *testing.T) *env {
	t.Helper()
	store := ledger.NewStore(memory.New())
	quotes := &stubQuotes{quotes: map[string]domain.Quote{
		"bitcoin": {ID: "bitcoin", Price: decimal.NewFromInt(60000), PercentChange24h: decimal.Zero},
	}}
	svc := portfolio.NewService(store, valuation.NewService(quotes, 0), nil, nil, portfolio.KeyFuncs{})
	h := &Handlers{Store: store, Service: svc}

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Post("/assets", h.Create)
	app.Patch("/assets/:id", h.Update)
	app.Delete("/assets/:id", h.Delete)
	app.Post("/assets/:id/transfer", h.Transfer)
	return &env{app: app, store: store, quotes: quotes}
}

func (e *env) send(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func (e *env) portfolio(t *testing.T, name string) uuid.UUID {
	t.Helper()
	p, err := e.store.CreatePortfolio(context.Background(), domain.NewPortfolio{Name: name, IncludeInSummary: true})
	require.NoError(t, err)
	return p.ID
}

func data(out map[string]interface{}) map[string]interface{} {
	return out["data"].(map[string]interface{})
}

func TestCreateMergesBySymbol(t *testing.T) {
	e := setup(t)
	pid := e.portfolio(t, "Main")
	body := `{"portfolioId":"` + pid.String() + `","symbol":"btc","priceId":"bitcoin","balance":"0.5","avgBuyPrice":"40000"}`

	status, out := e.send(t, "POST", "/assets", body)
	require.Equal(t, fiber.StatusCreated, status)
	first := data(out)
	assert.Equal(t, "BTC", first["symbol"])
	assert.Equal(t, "0.5", first["balance"])

	status, out = e.send(t, "POST", "/assets", body)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, first["id"], data(out)["id"])
	assert.Equal(t, "1", data(out)["balance"])
}

func TestCreateValidation(t *testing.T) {
	e := setup(t)
	pid := e.portfolio(t, "Main")

	cases := map[string]string{
		"bad portfolio id":  `{"portfolioId":"nope","symbol":"btc","priceId":"bitcoin"}`,
		"missing symbol":    `{"portfolioId":"` + pid.String() + `","priceId":"bitcoin"}`,
		"negative balance":  `{"portfolioId":"` + pid.String() + `","symbol":"btc","priceId":"bitcoin","balance":"-1"}`,
		"malformed payload": `{"portfolioId":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := e.send(t, "POST", "/assets", body)
			assert.Equal(t, fiber.StatusBadRequest, status)
		})
	}

	status, _ := e.send(t, "POST", "/assets", `{"portfolioId":"`+uuid.NewString()+`","symbol":"btc","priceId":"bitcoin"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestUpdateDistinguishesNullFromAbsent(t *testing.T) {
	e := setup(t)
	pid := e.portfolio(t, "Main")
	a, err := e.store.CreateAsset(context.Background(), domain.NewAsset{
		PortfolioID: pid, Symbol: "BTC", PriceID: "bitcoin",
		Balance: decimal.NewFromInt(1), AvgBuyPrice: decimal.NewNullDecimal(decimal.NewFromInt(30000)),
	})
	require.NoError(t, err)
	path := "/assets/" + a.ID.String()

	status, out := e.send(t, "PATCH", path, `{"name":"Bitcoin"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Bitcoin", data(out)["name"])
	assert.Equal(t, "30000", data(out)["avgBuyPrice"])

	status, out = e.send(t, "PATCH", path, `{"avgBuyPrice":null}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Nil(t, data(out)["avgBuyPrice"])

	status, _ = e.send(t, "PATCH", path, `{"avgBuyPrice":"abc"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestUpdateBalanceRecordsAdjustment(t *testing.T) {
	e := setup(t)
	pid := e.portfolio(t, "Main")
	a, err := e.store.CreateAsset(context.Background(), domain.NewAsset{PortfolioID: pid, Symbol: "BTC", PriceID: "bitcoin", Balance: decimal.NewFromInt(2)})
	require.NoError(t, err)

	status, out := e.send(t, "PATCH", "/assets/"+a.ID.String(), `{"balance":"1.5"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1.5", data(out)["balance"])

	txs, err := e.store.ListTransactions(context.Background(), ledger.TxFilter{PortfolioIDs: []uuid.UUID{pid}})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxSell, txs[0].Type)
	assert.Equal(t, "0.5", txs[0].Amount.String())
}

func TestDelete(t *testing.T) {
	e := setup(t)
	pid := e.portfolio(t, "Main")
	a, err := e.store.CreateAsset(context.Background(), domain.NewAsset{PortfolioID: pid, Symbol: "BTC", PriceID: "bitcoin", Balance: decimal.NewFromInt(1)})
	require.NoError(t, err)

	status, _ := e.send(t, "DELETE", "/assets/"+a.ID.String(), "")
	require.Equal(t, fiber.StatusOK, status)

	status, _ = e.send(t, "DELETE", "/assets/"+a.ID.String(), "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestTransfer(t *testing.T) {
	e := setup(t)
	src := e.portfolio(t, "Exchange")
	dst := e.portfolio(t, "Cold storage")
	a, err := e.store.CreateAsset(context.Background(), domain.NewAsset{PortfolioID: src, Symbol: "BTC", PriceID: "bitcoin", Balance: decimal.NewFromInt(2)})
	require.NoError(t, err)
	path := "/assets/" + a.ID.String() + "/transfer"

	status, out := e.send(t, "POST", path, `{"targetPortfolioId":"`+dst.String()+`","amount":"0.5"}`)
	require.Equal(t, fiber.StatusOK, status)
	res := data(out)
	assert.Equal(t, false, res["sourceDeleted"])
	assert.Equal(t, "1.5", res["source"].(map[string]interface{})["balance"])
	assert.Equal(t, "60000", res["destination"].(map[string]interface{})["avgBuyPrice"])

	status, out = e.send(t, "POST", path, `{"targetPortfolioId":"`+dst.String()+`","amount":"5"}`)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "invariant_violation", details["kind"])

	status, _ = e.send(t, "POST", path, `{"targetPortfolioId":"`+src.String()+`","amount":"1"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = e.send(t, "POST", path, `{"targetPortfolioId":"x","amount":"1"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestTransferPriceOutage(t *testing.T) {
	e := setup(t)
	src := e.portfolio(t, "Exchange")
	dst := e.portfolio(t, "Cold storage")
	a, err := e.store.CreateAsset(context.Background(), domain.NewAsset{PortfolioID: src, Symbol: "BTC", PriceID: "bitcoin", Balance: decimal.NewFromInt(2)})
	require.NoError(t, err)
	e.quotes.err = domain.Upstream("price source unavailable", errors.New("503"))

	status, out := e.send(t, "POST", "/assets/"+a.ID.String()+"/transfer", `{"targetPortfolioId":"`+dst.String()+`","amount":"1"}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "none", details["applied"])

	got, err := e.store.GetAsset(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", got.Balance.String())
}
