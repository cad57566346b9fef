package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/2-07665/ww-echo-policy-calculator/policy"
)

// Handler exposes the policy service over JSON/HTTP.
type Handler struct {
	validate *validator.Validate
	service  *policy.Service
}

// NewHandler wires a service into an HTTP handler set.
func NewHandler(svc *policy.Service) *Handler {
	return &Handler{validate: validator.New(), service: svc}
}

// Register mounts the API routes on an echo group.
func (h *Handler) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.GET("/bootstrap", h.Bootstrap)
	api.POST("/policy/compute", h.ComputePolicy)
	api.POST("/policy/suggest", h.PolicySuggestion)
	api.GET("/policy/summary", h.PolicySummary)
	api.POST("/reroll/compute", h.ComputeRerollPolicy)
	api.POST("/reroll/query", h.QueryRerollRecommendation)
}

// ResponseError is the uniform error payload.
type ResponseError struct {
	Message string `json:"message"`
}

// respondError maps the service error kinds onto status codes. Numeric
// failures are logged with detail but surfaced generically.
func respondError(c echo.Context, err error) error {
	var invalid *policy.InvalidInputError
	var unreachable *policy.UnreachableTargetError
	switch {
	case errors.As(err, &invalid), errors.As(err, &unreachable):
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	case errors.Is(err, policy.ErrNotReady):
		return c.JSON(http.StatusConflict, ResponseError{Message: err.Error()})
	case errors.Is(err, policy.ErrCancelled):
		return c.JSON(http.StatusRequestTimeout, ResponseError{Message: err.Error()})
	default:
		logrus.WithError(err).Error("policy request failed")
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: "internal error"})
	}
}

func (h *Handler) Bootstrap(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Bootstrap())
}

type ComputeRequest struct {
	BuffWeights     map[string]float64 `json:"buffWeights" validate:"required,min=1"`
	TargetScore     float64            `json:"targetScore"`
	ScorerType      string             `json:"scorerType" validate:"omitempty,oneof=linear fixed"`
	CostWeights     policy.CostWeights `json:"costWeights"`
	ExpRefundRatio  *float64           `json:"expRefundRatio"`
	BlendUserData   bool               `json:"blendUserData"`
	LambdaTolerance float64            `json:"lambdaTolerance" validate:"gte=0"`
	LambdaMaxIter   int                `json:"lambdaMaxIter" validate:"gte=0"`
	SimulationRuns  int                `json:"simulationRuns" validate:"gte=0"`
	SimulationSeed  int64              `json:"simulationSeed"`
}

func (h *Handler) ComputePolicy(c echo.Context) error {
	var req ComputeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	start := time.Now()
	result, err := h.service.ComputePolicy(c.Request().Context(), policy.ComputePolicyInput{
		BuffWeights:     req.BuffWeights,
		TargetScore:     req.TargetScore,
		ScorerType:      policy.ScorerType(req.ScorerType),
		CostWeights:     req.CostWeights,
		ExpRefundRatio:  req.ExpRefundRatio,
		BlendUserData:   req.BlendUserData,
		LambdaTolerance: req.LambdaTolerance,
		LambdaMaxIter:   req.LambdaMaxIter,
		SimulationRuns:  req.SimulationRuns,
		SimulationSeed:  req.SimulationSeed,
	})
	ComputeTotal.Inc()
	ComputeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type SuggestionRequest struct {
	PolicyID   string   `json:"policyId"`
	BuffNames  []string `json:"buffNames" validate:"required,max=5"`
	BuffValues []int    `json:"buffValues" validate:"required,max=5"`
	TotalScore float64  `json:"totalScore"`
}

func (h *Handler) PolicySuggestion(c echo.Context) error {
	var req SuggestionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	SuggestionTotal.Inc()
	result, err := h.service.PolicySuggestion(policy.SuggestionInput{
		PolicyID:   req.PolicyID,
		BuffNames:  req.BuffNames,
		BuffValues: req.BuffValues,
		TotalScore: req.TotalScore,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) PolicySummary(c echo.Context) error {
	summary, err := h.service.PolicySummary(c.QueryParam("policyId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

type RerollComputeRequest struct {
	BuffWeights     map[string]float64 `json:"buffWeights" validate:"required,min=1"`
	TargetScore     float64            `json:"targetScore"`
	LambdaTolerance float64            `json:"lambdaTolerance" validate:"gte=0"`
	LambdaMaxIter   int                `json:"lambdaMaxIter" validate:"gte=0"`
}

func (h *Handler) ComputeRerollPolicy(c echo.Context) error {
	var req RerollComputeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	ack, err := h.service.ComputeRerollPolicy(c.Request().Context(), policy.RerollComputeInput{
		BuffWeights:     req.BuffWeights,
		TargetScore:     req.TargetScore,
		LambdaTolerance: req.LambdaTolerance,
		LambdaMaxIter:   req.LambdaMaxIter,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ack)
}

type RerollQueryRequest struct {
	PolicyID           string   `json:"policyId"`
	BaselineBuffNames  []string `json:"baselineBuffNames" validate:"required,len=5"`
	CandidateBuffNames []string `json:"candidateBuffNames" validate:"max=5"`
	TopK               int      `json:"topK" validate:"gte=0"`
}

func (h *Handler) QueryRerollRecommendation(c echo.Context) error {
	var req RerollQueryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	if err := h.validate.Struct(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}
	RerollQueryTotal.Inc()
	result, err := h.service.QueryRerollRecommendation(policy.RerollQueryInput{
		PolicyID:           req.PolicyID,
		BaselineBuffNames:  req.BaselineBuffNames,
		CandidateBuffNames: req.CandidateBuffNames,
		TopK:               req.TopK,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
