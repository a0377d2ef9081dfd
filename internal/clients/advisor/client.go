// Package advisor is the HTTP client for the ML advisory microservice. All
// advice is best-effort: every method degrades to a deterministic fallback
// when the service is slow, failing, or its circuit breaker is open.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/resilience"
)

// FallbackModelVersion marks advice produced locally instead of by a model.
const FallbackModelVersion = "fallback"

// DefaultMinConfidence is the advice confidence floor when none is configured.
const DefaultMinConfidence = 0.5

// Default algorithms when the advisory service is unavailable.
const (
	Fallback1DAlgorithm = packing.Algo1DFFD
	Fallback2DAlgorithm = packing.Algo2DGuillotine
)

// AlgorithmAdvice is the model's algorithm recommendation.
type AlgorithmAdvice struct {
	Algorithm    string  `json:"algorithm"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion"`
}

// WastePrediction is the expected waste percentage before a run.
type WastePrediction struct {
	WastePercentage float64 `json:"wastePercentage"`
	ModelVersion    string  `json:"modelVersion"`
}

// TimePrediction is the expected run duration.
type TimePrediction struct {
	Millis       int64  `json:"millis"`
	ModelVersion string `json:"modelVersion"`
}

// Outcome reports a finished run back for model training. The error fields
// compare the pre-run waste prediction against the measured result and are
// only set when a prediction was recorded.
type Outcome struct {
	ScenarioID        string   `json:"scenarioId"`
	Algorithm         string   `json:"algorithm"`
	Features          Features `json:"features"`
	WastePercentage   float64  `json:"wastePercentage"`
	Efficiency        float64  `json:"efficiency"`
	DurationMillis    int64    `json:"durationMillis"`
	PlanApproved      *bool    `json:"planApproved,omitempty"`
	PredictedWastePct *float64 `json:"predictedWastePct,omitempty"`
	WasteErrorAbs     *float64 `json:"wasteErrorAbs,omitempty"`
	WasteErrorRelPct  *float64 `json:"wasteErrorRelPct,omitempty"`
}

// serviceResponse is the advisory service's uniform envelope.
type serviceResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// Client calls the advisory service over HTTP. Each endpoint sits behind its
// own circuit breaker so a broken predictor cannot block algorithm selection.
type Client struct {
	baseURL       string
	client        *http.Client
	minConfidence float64
	log           zerolog.Logger

	selectBreaker *resilience.Breaker
	wasteBreaker  *resilience.Breaker
	timeBreaker   *resilience.Breaker
}

// NewClient creates an advisory client. The breaker settings apply to each
// endpoint independently. Advice below minConfidence is discarded in favor
// of the deterministic default; minConfidence <= 0 selects the built-in floor.
func NewClient(baseURL string, timeout time.Duration, minConfidence float64, settings resilience.Settings, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Client{
		baseURL:       baseURL,
		client:        &http.Client{Timeout: timeout},
		minConfidence: minConfidence,
		log:           log.With().Str("client", "advisor").Logger(),

		selectBreaker: resilience.NewBreaker("advisor.select", settings, log),
		wasteBreaker:  resilience.NewBreaker("advisor.waste", settings, log),
		timeBreaker:   resilience.NewBreaker("advisor.time", settings, log),
	}
}

// Breakers exposes the endpoint breakers for status reporting.
func (c *Client) Breakers() []*resilience.Breaker {
	return []*resilience.Breaker{c.selectBreaker, c.wasteBreaker, c.timeBreaker}
}

// SelectAlgorithm asks the model which algorithm fits the request. It never
// fails: any error yields the deterministic default for the geometry family.
func (c *Client) SelectAlgorithm(ctx context.Context, features Features) AlgorithmAdvice {
	var advice AlgorithmAdvice
	err := c.selectBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/v1/select-algorithm", features, &advice)
	})
	if err != nil || !packing.Known(advice.Algorithm) {
		if err != nil {
			c.log.Debug().Err(err).Msg("Algorithm selection fell back to default")
		}
		return fallbackAdvice(features.Is2D)
	}
	// The model must not send an algorithm from the wrong family.
	if features.Is2D != packing.Is2D(advice.Algorithm) {
		c.log.Warn().Str("algorithm", advice.Algorithm).Msg("Advisory algorithm family mismatch, using default")
		return fallbackAdvice(features.Is2D)
	}
	if advice.Confidence < c.minConfidence {
		c.log.Debug().
			Str("algorithm", advice.Algorithm).
			Float64("confidence", advice.Confidence).
			Float64("threshold", c.minConfidence).
			Msg("Advisory confidence below threshold, using default")
		return fallbackAdvice(features.Is2D)
	}
	return advice
}

func fallbackAdvice(is2D bool) AlgorithmAdvice {
	algo := Fallback1DAlgorithm
	if is2D {
		algo = Fallback2DAlgorithm
	}
	return AlgorithmAdvice{Algorithm: algo, ModelVersion: FallbackModelVersion}
}

// PredictWaste estimates waste before a run. A nil result means no
// prediction is available.
func (c *Client) PredictWaste(ctx context.Context, features Features) *WastePrediction {
	var prediction WastePrediction
	err := c.wasteBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/v1/predict-waste", features, &prediction)
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("Waste prediction unavailable")
		return nil
	}
	return &prediction
}

// PredictTime estimates run duration before a run. A nil result means no
// prediction is available.
func (c *Client) PredictTime(ctx context.Context, features Features) *TimePrediction {
	var prediction TimePrediction
	err := c.timeBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/v1/predict-time", features, &prediction)
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("Time prediction unavailable")
		return nil
	}
	return &prediction
}

// RecordOutcome ships a finished run's result to the training pipeline.
// Fire-and-forget: failures are logged and dropped.
func (c *Client) RecordOutcome(outcome Outcome) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
		defer cancel()
		if err := c.post(ctx, "/v1/outcomes", outcome, nil); err != nil {
			c.log.Debug().Err(err).Str("scenarioId", outcome.ScenarioID).Msg("Failed to record outcome")
		}
	}()
}

// post sends a JSON request and decodes the envelope's data into out.
func (c *Client) post(ctx context.Context, endpoint string, request, out interface{}) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("advisor returned status %d", httpResp.StatusCode)
	}

	var resp serviceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !resp.Success {
		errorMsg := "unknown error"
		if resp.Error != nil {
			errorMsg = *resp.Error
		}
		return fmt.Errorf("advisor call failed: %s", errorMsg)
	}

	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}
