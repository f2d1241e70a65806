package market

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/prices"
	"cryptofolio-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, ids []string) (map[string]domain.Quote, error)

func (f sourceFunc) Quotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	return f(ctx, ids)
}

func get(t *testing.T, app *fiber.App, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestPricesServesSnapshot(t *testing.T) {
	cache := prices.NewCache(nil)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.Swap(context.Background(), map[string]domain.Quote{
		"solana":  {ID: "solana", Price: decimal.NewFromInt(150)},
		"bitcoin": {ID: "bitcoin", Price: decimal.NewFromInt(60000)},
	}, at)
	h := &Handlers{Cache: cache}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/market/prices", h.Prices)

	status, out := get(t, app, "/market/prices")
	require.Equal(t, fiber.StatusOK, status)
	list := out["data"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "bitcoin", list[0].(map[string]interface{})["id"])
	meta := out["metadata"].(map[string]interface{})
	assert.EqualValues(t, 2, meta["count"])
	assert.Equal(t, "2025-06-01T12:00:00Z", meta["updatedAt"])
}

func TestQuotes(t *testing.T) {
	var fail bool
	src := sourceFunc(func(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
		if fail {
			return nil, errors.New("rate limited")
		}
		out := map[string]domain.Quote{}
		for _, id := range ids {
			if id == "ethereum" {
				out[id] = domain.Quote{ID: id, Price: decimal.NewFromInt(3000)}
			}
		}
		return out, nil
	})
	h := &Handlers{Valuation: valuation.NewService(src, 0)}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Get("/market/quotes", h.Quotes)

	status, out := get(t, app, "/market/quotes?ids=ethereum,%20unknown-coin")
	require.Equal(t, fiber.StatusOK, status)
	data := out["data"].(map[string]interface{})
	assert.Contains(t, data, "ethereum")
	assert.NotContains(t, data, "unknown-coin")

	status, _ = get(t, app, "/market/quotes")
	assert.Equal(t, fiber.StatusBadRequest, status)

	fail = true
	status, out = get(t, app, "/market/quotes?ids=ethereum")
	assert.Equal(t, fiber.StatusBadGateway, status)
	details := out["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "upstream_unavailable", details["kind"])
}
