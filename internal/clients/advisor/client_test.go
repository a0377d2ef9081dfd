package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/resilience"
)

func newTestClient(url string) *Client {
	return NewClient(url, time.Second, 0, resilience.Settings{
		VolumeThreshold:  2,
		ErrorThresholdPc: 50,
		Timeout:          time.Second,
	}, zerolog.Nop())
}

func envelope(data interface{}) string {
	payload, _ := json.Marshal(map[string]interface{}{"success": true, "data": data})
	return string(payload)
}

func TestSelectAlgorithmUsesServiceAdvice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/select-algorithm", r.URL.Path)
		var features Features
		require.NoError(t, json.NewDecoder(r.Body).Decode(&features))
		assert.Equal(t, 8, features.PieceCount)
		w.Write([]byte(envelope(AlgorithmAdvice{Algorithm: packing.Algo1DBFD, Confidence: 0.92, ModelVersion: "v3"})))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	advice := c.SelectAlgorithm(context.Background(), Features{PieceCount: 8})
	assert.Equal(t, packing.Algo1DBFD, advice.Algorithm)
	assert.Equal(t, "v3", advice.ModelVersion)
}

func TestSelectAlgorithmFallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	advice := c.SelectAlgorithm(context.Background(), Features{})
	assert.Equal(t, Fallback1DAlgorithm, advice.Algorithm)
	assert.Equal(t, FallbackModelVersion, advice.ModelVersion)

	advice = c.SelectAlgorithm(context.Background(), Features{Is2D: true})
	assert.Equal(t, Fallback2DAlgorithm, advice.Algorithm)
}

func TestSelectAlgorithmFallsBackOnLowConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelope(AlgorithmAdvice{Algorithm: packing.Algo1DBFD, Confidence: 0.2, ModelVersion: "v3"})))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0.6, resilience.Settings{
		VolumeThreshold:  2,
		ErrorThresholdPc: 50,
		Timeout:          time.Second,
	}, zerolog.Nop())

	advice := c.SelectAlgorithm(context.Background(), Features{})
	assert.Equal(t, Fallback1DAlgorithm, advice.Algorithm)
	assert.Equal(t, FallbackModelVersion, advice.ModelVersion)
}

func TestSelectAlgorithmRejectsFamilyMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(envelope(AlgorithmAdvice{Algorithm: packing.Algo2DBottomLeft, ModelVersion: "v3"})))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	advice := c.SelectAlgorithm(context.Background(), Features{Is2D: false})
	assert.Equal(t, Fallback1DAlgorithm, advice.Algorithm)
	assert.Equal(t, FallbackModelVersion, advice.ModelVersion)
}

func TestSelectAlgorithmShortCircuitsWhenBreakerOpen(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		c.SelectAlgorithm(context.Background(), Features{})
	}
	tripped := calls.Load()
	assert.LessOrEqual(t, tripped, int64(2))

	advice := c.SelectAlgorithm(context.Background(), Features{})
	assert.Equal(t, FallbackModelVersion, advice.ModelVersion)
	assert.Equal(t, tripped, calls.Load(), "open breaker must not call the service")
}

func TestPredictWaste(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predict-waste", r.URL.Path)
		w.Write([]byte(envelope(WastePrediction{WastePercentage: 7.5, ModelVersion: "v2"})))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	prediction := c.PredictWaste(context.Background(), Features{})
	require.NotNil(t, prediction)
	assert.InDelta(t, 7.5, prediction.WastePercentage, 1e-9)
}

func TestPredictWasteUnavailableReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"model not trained"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	assert.Nil(t, c.PredictWaste(context.Background(), Features{}))
}

func TestPredictTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predict-time", r.URL.Path)
		w.Write([]byte(envelope(TimePrediction{Millis: 1200, ModelVersion: "v2"})))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	prediction := c.PredictTime(context.Background(), Features{})
	require.NotNil(t, prediction)
	assert.Equal(t, int64(1200), prediction.Millis)
}

func TestRecordOutcomeFireAndForget(t *testing.T) {
	received := make(chan Outcome, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/outcomes", r.URL.Path)
		var outcome Outcome
		require.NoError(t, json.NewDecoder(r.Body).Decode(&outcome))
		received <- outcome
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.RecordOutcome(Outcome{ScenarioID: "scn-1", Algorithm: packing.Algo1DFFD, WastePercentage: 4.2})

	select {
	case outcome := <-received:
		assert.Equal(t, "scn-1", outcome.ScenarioID)
	case <-time.After(2 * time.Second):
		t.Fatal("outcome was never delivered")
	}
}

func TestExtract1DFeatures(t *testing.T) {
	pieces := []packing.Piece1D{
		{ID: "a", Length: 600, Quantity: 2},
		{ID: "b", Length: 1000, Quantity: 1},
	}
	stocks := []packing.Stock1D{{ID: "s1", Length: 2800, Available: 5}}

	f := Extract1D(pieces, stocks, packing.Options{Kerf: 3})
	assert.False(t, f.Is2D)
	assert.Equal(t, 3, f.PieceCount)
	assert.Equal(t, 2, f.DistinctSizes)
	assert.InDelta(t, (600+600+1000)/3.0, f.MeanLength, 1e-9)
	assert.InDelta(t, 2200, f.TotalDemand, 1e-9)
	assert.Equal(t, 1, f.StockVariety)
	assert.InDelta(t, 2800, f.MeanStockLength, 1e-9)
	assert.InDelta(t, 3, f.Kerf, 1e-9)
}

func TestExtract2DFeatures(t *testing.T) {
	pieces := []packing.Piece2D{
		{ID: "a", W: 600, H: 400, Quantity: 2, CanRotate: true},
	}
	stocks := []packing.Stock2D{{ID: "s1", W: 2500, H: 1250, Available: 1}}

	f := Extract2D(pieces, stocks, packing.Options{AllowRotation: true})
	assert.True(t, f.Is2D)
	assert.Equal(t, 2, f.PieceCount)
	assert.Equal(t, 1, f.DistinctSizes)
	assert.InDelta(t, 240000, f.MeanArea, 1e-9)
	assert.InDelta(t, 480000, f.TotalDemand, 1e-9)
	assert.True(t, f.RotationAllowed)
	assert.InDelta(t, 3125000, f.MeanStockLength, 1e-9)
}

func TestFeatureStdDevZeroForSinglePiece(t *testing.T) {
	f := Extract1D([]packing.Piece1D{{ID: "a", Length: 500, Quantity: 1}}, nil, packing.Options{})
	assert.Zero(t, f.LengthStdDev)
}
