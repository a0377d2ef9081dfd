package stock

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/opticut/internal/database"
	"github.com/aristath/opticut/internal/services"
	"github.com/aristath/opticut/internal/tenant"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db, zerolog.Nop())
}

func barItem(label string, length float64, price float64) *Item {
	return &Item{
		Label:          label,
		MaterialTypeID: "mat-steel",
		StockType:      services.StockTypeBar,
		Length:         length,
		Thickness:      3,
		Quantity:       10,
		UnitPrice:      price,
	}
}

func TestFindAvailableFiltersAndOrders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cheap := barItem("cheap", 3000, 5)
	pricey := barItem("pricey", 3000, 9)
	offcut := barItem("offcut", 1200, 0)
	offcut.IsFromWaste = true
	other := barItem("other-material", 3000, 5)
	other.MaterialTypeID = "mat-alu"
	sheet := barItem("sheet", 2440, 20)
	sheet.StockType = services.StockTypeSheet
	sheet.Width = 1220

	for _, item := range []*Item{pricey, cheap, offcut, other, sheet} {
		require.NoError(t, repo.Create(ctx, item))
	}

	items, err := repo.FindAvailable(ctx, services.StockQuery{
		MaterialTypeID: "mat-steel",
		Thickness:      3,
		StockType:      services.StockTypeBar,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Offcuts first, then ascending price.
	assert.Equal(t, "offcut", items[0].Label)
	assert.True(t, items[0].IsFromWaste)
	assert.Equal(t, "cheap", items[1].Label)
	assert.Equal(t, "pricey", items[2].Label)
}

func TestFindAvailableSelectedIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := barItem("a", 3000, 5)
	b := barItem("b", 3000, 5)
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	items, err := repo.FindAvailable(ctx, services.StockQuery{
		MaterialTypeID:   "mat-steel",
		Thickness:        3,
		SelectedStockIDs: []string{b.ID},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID, items[0].ID)
}

func TestFindAvailableSkipsFullyReserved(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	item := barItem("reserved", 3000, 5)
	require.NoError(t, repo.Create(ctx, item))
	require.NoError(t, repo.Reserve(ctx, item.ID, 10))

	items, err := repo.FindAvailable(ctx, services.StockQuery{MaterialTypeID: "mat-steel", Thickness: 3})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestReserveOptimisticLocking(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	item := barItem("bar", 3000, 5)
	require.NoError(t, repo.Create(ctx, item))

	require.NoError(t, repo.Reserve(ctx, item.ID, 4))
	require.NoError(t, repo.Reserve(ctx, item.ID, 4))

	err := repo.Reserve(ctx, item.ID, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient stock")

	require.NoError(t, repo.Release(ctx, item.ID, 4))
	require.NoError(t, repo.Reserve(ctx, item.ID, 4))
}

func TestReleaseClampsAtZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	item := barItem("bar", 3000, 5)
	require.NoError(t, repo.Create(ctx, item))
	require.NoError(t, repo.Release(ctx, item.ID, 99))

	items, err := repo.FindAvailable(ctx, services.StockQuery{MaterialTypeID: "mat-steel", Thickness: 3})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].ReservedQty)
}

func TestReturnOffcutInheritsMaterial(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	source := barItem("bar", 3000, 5)
	require.NoError(t, repo.Create(ctx, source))

	offcut, err := repo.ReturnOffcut(ctx, source.ID, 450, 0)
	require.NoError(t, err)
	assert.True(t, offcut.IsFromWaste)
	assert.Equal(t, "mat-steel", offcut.MaterialTypeID)
	assert.Equal(t, 450.0, offcut.Length)
	assert.Equal(t, 0.0, offcut.UnitPrice)

	items, err := repo.FindAvailable(ctx, services.StockQuery{MaterialTypeID: "mat-steel", Thickness: 3})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, offcut.ID, items[0].ID)
}

func TestTenantScoping(t *testing.T) {
	repo := newTestRepo(t)

	ctxA := tenant.WithTenant(context.Background(), "tenant-a")
	ctxB := tenant.WithTenant(context.Background(), "tenant-b")

	scoped := barItem("scoped", 3000, 5)
	require.NoError(t, repo.Create(ctxA, scoped))
	legacy := barItem("legacy", 3000, 5)
	require.NoError(t, repo.Create(context.Background(), legacy))

	query := services.StockQuery{MaterialTypeID: "mat-steel", Thickness: 3}

	items, err := repo.FindAvailable(ctxA, query)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = repo.FindAvailable(ctxB, query)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "legacy", items[0].Label)
}

func TestRegistryHandler(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	item := barItem("bar", 3000, 5)
	require.NoError(t, repo.Create(ctx, item))
	require.NoError(t, repo.Reserve(ctx, item.ID, 3))

	handler := repo.RegistryHandler()

	resp := handler(ctx, "POST", "/stock/available", map[string]interface{}{
		"materialTypeId": "mat-steel",
		"thickness":      3.0,
		"stockType":      services.StockTypeBar,
	})
	require.True(t, resp.Success)
	items, ok := resp.Data.([]services.StockItem)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, 7, items[0].Quantity)

	resp = handler(ctx, "POST", "/stock/available", map[string]interface{}{})
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	resp = handler(ctx, "GET", "/nope", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}
