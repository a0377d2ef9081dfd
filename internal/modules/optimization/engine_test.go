package optimization

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/opticut/internal/config"
	"github.com/aristath/opticut/internal/packing"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/workpool"
)

type engineFixture struct {
	engine *Engine
	pool   *workpool.Pool
}

func floatPtr(v float64) *float64 { return &v }

// newEngineFixture wires an engine against stub job and stock services.
func newEngineFixture(t *testing.T, job *services.CuttingJob, stock []services.StockItem) *engineFixture {
	t.Helper()
	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(services.ModuleCuttingJob, func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		if job != nil && path == "/cutting-jobs/"+job.ID {
			return services.OK(job)
		}
		return services.Fail("JOB_NOT_FOUND", "no such job")
	})
	registry.Register(services.ModuleStock, func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		if ids, ok := data["selectedStockIds"].([]string); ok {
			var filtered []services.StockItem
			for _, item := range stock {
				for _, id := range ids {
					if item.ID == id {
						filtered = append(filtered, item)
					}
				}
			}
			return services.OK(filtered)
		}
		return services.OK(stock)
	})

	pool := workpool.New(2, 5*time.Second, zerolog.Nop())
	t.Cleanup(pool.Close)

	cfg := config.EngineConfig{
		Kerf:             3,
		MinUsableWaste1D: 50,
		MinUsableWaste2D: 10000,
		AllowRotation:    true,
		TaskTimeout:      5 * time.Second,
	}
	engine := NewEngine(
		services.NewCuttingJobClient(registry),
		services.NewStockClient(registry),
		pool,
		packing.DefaultRegistry(),
		nil,
		cfg,
		zerolog.Nop(),
	)
	return &engineFixture{engine: engine, pool: pool}
}

func barStock() []services.StockItem {
	return []services.StockItem{
		{ID: "bar-1", StockType: services.StockTypeBar, Length: 2800, Quantity: 10, UnitPrice: 12.5},
	}
}

func TestEngineRun1DSuccess(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	result := f.engine.Run(context.Background(), RunInput{
		ScenarioID:   "scn-1",
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD, Kerf: floatPtr(0)},
	})
	require.True(t, result.Success, "%v", result.Error)
	data := result.PlanData

	assert.Equal(t, packing.Algo1DFFD, data.Algorithm)
	assert.Equal(t, 1, data.StockUsedCount)
	assert.Zero(t, data.UnplacedCount)
	assert.InDelta(t, 200, data.TotalWaste, 1e-9)
	assert.InDelta(t, 100-data.WastePercentage, data.Efficiency, 1e-9)

	require.NotNil(t, data.EstimatedCost)
	assert.Equal(t, "12.5", data.EstimatedCost.String())
	require.NotNil(t, data.EstimatedTimeMillis)
}

// An explicit zero kerf must pass through untouched; only a nil kerf picks
// up the configured default.
func TestEngineKerfZeroVersusDefault(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	zero := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD, Kerf: floatPtr(0)},
	})
	require.True(t, zero.Success, "%v", zero.Error)
	assert.InDelta(t, 200, zero.PlanData.TotalWaste, 1e-9)

	// 3×600 + 2×400 with the configured 3 mm kerf charges four kerf bands.
	defaulted := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD},
	})
	require.True(t, defaulted.Success, "%v", defaulted.Error)
	assert.InDelta(t, 188, defaulted.PlanData.TotalWaste, 1e-9)
}

func TestEngineDefaultsAlgorithmWithoutAdvisor(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	result := f.engine.Run(context.Background(), RunInput{CuttingJobID: "job-1"})
	require.True(t, result.Success)
	assert.Equal(t, packing.Algo1DFFD, result.PlanData.Algorithm)
	assert.Equal(t, "fallback", result.PlanData.ModelVersion)
}

func TestEngineJobNotFound(t *testing.T) {
	f := newEngineFixture(t, nil, barStock())

	result := f.engine.Run(context.Background(), RunInput{CuttingJobID: "missing"})
	require.False(t, result.Success)
	assert.Equal(t, CodeJobNotFound, result.Error.Code)
}

func TestEngineJobServiceFailureIsUpstream(t *testing.T) {
	registry := services.NewRegistry(zerolog.Nop())
	registry.Register(services.ModuleCuttingJob, func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		return services.Fail("INTERNAL_ERROR", "job query failed")
	})
	pool := workpool.New(1, time.Second, zerolog.Nop())
	t.Cleanup(pool.Close)
	engine := NewEngine(
		services.NewCuttingJobClient(registry),
		services.NewStockClient(registry),
		pool,
		packing.DefaultRegistry(),
		nil,
		config.EngineConfig{Kerf: 3, TaskTimeout: time.Second},
		zerolog.Nop(),
	)

	result := engine.Run(context.Background(), RunInput{CuttingJobID: "job-1"})
	require.False(t, result.Success)
	assert.Equal(t, CodeUpstream, result.Error.Code)
}

func TestEngineNoStock(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), nil)

	result := f.engine.Run(context.Background(), RunInput{CuttingJobID: "job-1"})
	require.False(t, result.Success)
	assert.Equal(t, CodeNoStock, result.Error.Code)
}

func TestEngineSelectedStockRestrictsPool(t *testing.T) {
	stock := append(barStock(), services.StockItem{
		ID: "bar-2", StockType: services.StockTypeBar, Length: 2800, Quantity: 10, UnitPrice: 1,
	})
	f := newEngineFixture(t, sampleJob1D(), stock)

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID:     "job-1",
		Parameters:       Parameters{Algorithm: packing.Algo1DFFD},
		SelectedStockIDs: []string{"bar-1"},
	})
	require.True(t, result.Success)
	for _, layout := range result.PlanData.Layouts {
		assert.Equal(t, "bar-1", layout.StockItemID)
	}
}

func TestEngineRejectsUnknownAlgorithm(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: "3D_TETRIS"},
	})
	require.False(t, result.Success)
	assert.Equal(t, CodeInvalidAlgorithm, result.Error.Code)
}

func TestEngineRejectsFamilyMismatch(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo2DGuillotine},
	})
	require.False(t, result.Success)
	assert.Equal(t, CodeAlgorithmMismatch, result.Error.Code)
}

func TestEngineRejectsKerfOutOfRange(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Kerf: floatPtr(25)},
	})
	require.False(t, result.Success)
	assert.Equal(t, CodeInvalidRange, result.Error.Code)
}

func TestEngineCancelledRun(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.engine.Run(ctx, RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD},
	})
	require.False(t, result.Success)
	assert.Equal(t, CodeCancelled, result.Error.Code)
}

func TestEngineRunsInThreadWhenPoolClosed(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())
	f.pool.Close()

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD},
	})
	require.True(t, result.Success)
	assert.Equal(t, 1, result.PlanData.StockUsedCount)
}

func TestEngineRun2DSuccess(t *testing.T) {
	job := &services.CuttingJob{
		ID:             "job-2",
		MaterialTypeID: "mt-1",
		Thickness:      18,
		Items: []services.CuttingJobItem{
			{ID: "p", Length: 600, Width: 400, Quantity: 2, GeometryType: services.GeometryRectangle, CanRotate: true},
		},
	}
	stock := []services.StockItem{
		{ID: "sheet-1", StockType: services.StockTypeSheet, Length: 1220, Width: 2440, Quantity: 10, UnitPrice: 40},
	}
	f := newEngineFixture(t, job, stock)

	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-2",
		Parameters:   Parameters{Algorithm: packing.Algo2DBottomLeft, Kerf: floatPtr(3)},
	})
	require.True(t, result.Success, "%v", result.Error)
	data := result.PlanData
	assert.Equal(t, 1, data.StockUsedCount)
	assert.Zero(t, data.UnplacedCount)
	assert.InDelta(t, 1220*2440-2*600*400, data.TotalWaste, 1e-6)
	require.Len(t, data.Layouts, 1)
	assert.Equal(t, LayoutType2D, data.Layouts[0].Layout.Type)
	assert.Len(t, data.Layouts[0].Layout.Placements, 2)
}

func TestEngineProgressReporting(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())

	var percents []int
	result := f.engine.Run(context.Background(), RunInput{
		CuttingJobID: "job-1",
		Parameters:   Parameters{Algorithm: packing.Algo1DFFD},
		Progress:     func(percent int, message string) { percents = append(percents, percent) },
	})
	require.True(t, result.Success)
	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	assert.Equal(t, 100, percents[len(percents)-1])
}

func TestEngineDeterministicLayouts(t *testing.T) {
	f := newEngineFixture(t, sampleJob1D(), barStock())
	input := RunInput{CuttingJobID: "job-1", Parameters: Parameters{Algorithm: packing.Algo1DBFD, Kerf: floatPtr(3)}}

	first := f.engine.Run(context.Background(), input)
	second := f.engine.Run(context.Background(), input)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.PlanData.Layouts, second.PlanData.Layouts)
}
