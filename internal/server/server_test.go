package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/derivscript/internal/config"
	"github.com/aristath/derivscript/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:         8080,
		Workers:      2,
		DefaultPaths: 16,
		DefaultSeed:  1,
		FuzzyEpsilon: 1e-4,
		EpsGuard:     1e-12,
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(Config{
		Port:  8080,
		Log:   zerolog.Nop(),
		Cfg:   testConfig(),
		Store: store.New(db),
	})
}

func flatPriceBody(extra func(m map[string]any)) []byte {
	body := map[string]any{
		"market_data": map[string]any{
			"reference_date": "2024-01-01",
			"local_currency": "CLP",
			"fx":              []map[string]any{{"weak": "USD", "strong": "CLP", "value": 900, "vol": 0.1}},
			"curves":          []map[string]any{{"name": "CLP", "currency": "CLP", "rate": 0}},
		},
		"script_data": map[string]any{
			"events": []map[string]any{{"date": "2024-01-01", "script": `opt = 0; s = Spot("USD","CLP"); opt pays s;`}},
		},
		"num_paths": 4,
		"seed":      7,
	}
	if extra != nil {
		extra(body)
	}
	data, _ := json.Marshal(body)
	return data
}

// TestHandlePriceReturnsVariables confirms the HTTP JSON contract matches
// internal/pricing's Response shape end to end through the router.
func TestHandlePriceReturnsVariables(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/price", bytes.NewReader(flatPriceBody(nil)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Variables map[string]any `json:"variables"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.InDelta(t, 900.0, resp.Variables["opt"], 1e-6)
}

// TestHandlePriceSavesRunForLaterLookup confirms a priced call is
// persisted and retrievable via GET /api/runs/{id}.
func TestHandlePriceSavesRunForLaterLookup(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/price", bytes.NewReader(flatPriceBody(nil)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	listW := httptest.NewRecorder()
	s.router.ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	var runs []store.Summary
	require.NoError(t, json.NewDecoder(listW.Body).Decode(&runs))
	require.Len(t, runs, 1)

	getReq := httptest.NewRequest(http.MethodGet, "/api/runs/"+runs[0].ID, nil)
	getW := httptest.NewRecorder()
	s.router.ServeHTTP(getW, getReq)
	assert.Equal(t, http.StatusOK, getW.Code)
}

// TestHandleGetRunReturnsNotFoundForUnknownID confirms a missing run id
// surfaces as 404 rather than a 500.
func TestHandleGetRunReturnsNotFoundForUnknownID(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandlePriceRejectsMalformedScriptAsBadRequest confirms a
// SyntaxError pricing.Error maps to HTTP 400, not 500.
func TestHandlePriceRejectsMalformedScriptAsBadRequest(t *testing.T) {
	s := testServer(t)

	body := flatPriceBody(func(m map[string]any) {
		m["script_data"] = map[string]any{
			"events": []map[string]any{{"date": "2024-01-01", "script": `x = "unterminated`}},
		}
	})

	req := httptest.NewRequest(http.MethodPost, "/api/price", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errBody errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errBody))
	assert.Equal(t, "syntax_error", errBody.Kind)
}

// TestHandlePriceRejectsUnknownPriceVariableAsNotFound confirms a
// NotFound pricing.Error maps to HTTP 404.
func TestHandlePriceRejectsUnknownPriceVariableAsNotFound(t *testing.T) {
	s := testServer(t)

	body := flatPriceBody(func(m map[string]any) { m["price_variable"] = "does_not_exist" })

	req := httptest.NewRequest(http.MethodPost, "/api/price", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleHealthReportsWorkerCount confirms the health endpoint
// reflects the configured worker pool size alongside process vitals.
func TestHandleHealthReportsWorkerCount(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Workers)
}

// TestServerStartAndShutdown confirms the lifecycle methods behave: Start
// on a background goroutine, Shutdown returns once it drains. Port 0
// lets the OS pick a free port so this never collides with another test
// or a locally running instance.
func TestServerStartAndShutdown(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(Config{Port: 0, Log: zerolog.Nop(), Cfg: testConfig(), Store: store.New(db)})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.NoError(t, s.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	default:
	}
}
