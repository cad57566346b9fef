package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2-07665/ww-echo-policy-calculator/policy"
)

func newTestServer() *echo.Echo {
	e := echo.New()
	NewHandler(policy.NewService()).Register(e)
	return e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// TestBootstrapEndpoint verifies the static payload round-trips as JSON.
func TestBootstrapEndpoint(t *testing.T) {
	e := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/bootstrap", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var boot policy.BootstrapData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &boot))
	assert.Len(t, boot.BuffTypes, policy.NumBuffs)
	assert.Equal(t, policy.MaxSlots, boot.MaxSelectedTypes)
}

// TestComputeThenSuggest drives the happy path through HTTP.
func TestComputeThenSuggest(t *testing.T) {
	e := newTestServer()

	rec := postJSON(e, "/api/policy/compute", `{
		"buffWeights": {"Crit. DMG": 1},
		"targetScore": 50,
		"scorerType": "linear",
		"costWeights": {"wTuner": 1},
		"lambdaTolerance": 0.0001
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var computed policy.ComputePolicyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &computed))
	assert.NotEmpty(t, computed.PolicyID)
	assert.Greater(t, computed.Summary.LambdaStar, 0.0)

	rec = postJSON(e, "/api/policy/suggest", `{
		"policyId": "`+computed.PolicyID+`",
		"buffNames": ["Crit. DMG"],
		"buffValues": [126]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var suggestion policy.SuggestionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestion))
	assert.Equal(t, 1, suggestion.Stage)
	assert.Equal(t, 1.0, suggestion.SuccessProbability)
}

// TestSuggestBeforeCompute maps NotReady to 409.
func TestSuggestBeforeCompute(t *testing.T) {
	e := newTestServer()
	rec := postJSON(e, "/api/policy/suggest", `{"buffNames": ["Crit. DMG"], "buffValues": [126]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// TestComputeValidation maps bad requests to 400.
func TestComputeValidation(t *testing.T) {
	e := newTestServer()

	// Missing weights fails struct validation.
	rec := postJSON(e, "/api/policy/compute", `{"targetScore": 50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown scorer fails the oneof rule.
	rec = postJSON(e, "/api/policy/compute", `{
		"buffWeights": {"Crit. DMG": 1}, "targetScore": 50, "scorerType": "cubic"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unreachable target surfaces as 400 with a reason.
	rec = postJSON(e, "/api/policy/compute", `{
		"buffWeights": {"Crit. DMG": 1},
		"targetScore": 101,
		"scorerType": "linear",
		"costWeights": {"wTuner": 1}
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

// TestRerollEndpoints drives compute + query over HTTP.
func TestRerollEndpoints(t *testing.T) {
	e := newTestServer()

	rec := postJSON(e, "/api/reroll/compute", `{
		"buffWeights": {"Crit. Rate": 2, "Crit. DMG": 2, "ATK%": 2, "HP%": 2, "Energy Regen": 2},
		"targetScore": 8,
		"lambdaTolerance": 0.0001
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack policy.RerollAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.NotEmpty(t, ack.PolicyID)

	rec = postJSON(e, "/api/reroll/query", `{
		"baselineBuffNames": ["Crit. Rate", "Crit. DMG", "ATK%", "ATK", "DEF"],
		"topK": 5
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result policy.RerollResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid, result.Reason)
	require.NotEmpty(t, result.RecommendedLockChoices)
	assert.Zero(t, result.RecommendedLockChoices[0].Regret)

	// A short baseline fails the len=5 rule before the service sees it.
	rec = postJSON(e, "/api/reroll/query", `{"baselineBuffNames": ["Crit. Rate"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
