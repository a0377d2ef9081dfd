package packing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBottomLeftFill_TwoPiecesOneSheet(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 600, H: 400, Quantity: 2, CanRotate: true}}
	stock := []Stock2D{{ID: "S", W: 1220, H: 2440, Available: 10}}
	opts := Options{Kerf: 3, AllowRotation: true, MinUsableWaste: 10000}

	result, err := BottomLeftFill(context.Background(), pieces, stock, opts)
	require.NoError(t, err)

	require.Len(t, result.Sheets, 1)
	sheet := result.Sheets[0]
	require.Len(t, sheet.Placements, 2)
	assert.Empty(t, result.Unplaced)

	first := sheet.Placements[0]
	assert.Equal(t, 0.0, first.X)
	assert.Equal(t, 0.0, first.Y)
	assert.False(t, first.Rotated)

	// Second piece sits to the right, one kerf band away.
	second := sheet.Placements[1]
	assert.Equal(t, 603.0, second.X)
	assert.Equal(t, 0.0, second.Y)

	assert.Equal(t, 1220*2440-2*600*400.0, sheet.Waste)

	// Placements stay inside the sheet.
	for _, p := range sheet.Placements {
		assert.LessOrEqual(t, p.X+p.W, sheet.StockW)
		assert.LessOrEqual(t, p.Y+p.H, sheet.StockH)
	}
}

func TestBottomLeftFill_KerfSeparation(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 300, H: 300, Quantity: 4}}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 1}}
	opts := Options{Kerf: 5, MinUsableWaste: 10000}

	result, err := BottomLeftFill(context.Background(), pieces, stock, opts)
	require.NoError(t, err)
	require.Len(t, result.Sheets, 1)

	placements := result.Sheets[0].Placements
	require.Len(t, placements, 4)
	for i := 0; i < len(placements); i++ {
		for j := i + 1; j < len(placements); j++ {
			a, b := placements[i], placements[j]
			sepX := b.X-(a.X+a.W) >= 5 || a.X-(b.X+b.W) >= 5
			sepY := b.Y-(a.Y+a.H) >= 5 || a.Y-(b.Y+b.H) >= 5
			assert.True(t, sepX || sepY, "placements %d and %d closer than kerf", i, j)
		}
	}
}

func TestBottomLeftFill_KerfZeroMayTouch(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 500, H: 500, Quantity: 4}}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 1}}

	result, err := BottomLeftFill(context.Background(), pieces, stock, Options{MinUsableWaste: 10000})
	require.NoError(t, err)

	require.Len(t, result.Sheets, 1)
	assert.Len(t, result.Sheets[0].Placements, 4)
	assert.Equal(t, 0.0, result.Sheets[0].Waste)
	assert.Empty(t, result.Unplaced)
}

func TestBottomLeftFill_RotationDisabled(t *testing.T) {
	// The piece only fits rotated, which is not allowed.
	pieces := []Piece2D{{ID: "P", W: 400, H: 600, Quantity: 1, CanRotate: true}}
	stock := []Stock2D{{ID: "S", W: 600, H: 400, Available: 1}}

	result, err := BottomLeftFill(context.Background(), pieces, stock, Options{AllowRotation: false, MinUsableWaste: 10000})
	require.NoError(t, err)

	assert.Empty(t, result.Sheets)
	require.Len(t, result.Unplaced, 1)

	// With rotation on, the same piece packs.
	result, err = BottomLeftFill(context.Background(), pieces, stock, Options{AllowRotation: true, MinUsableWaste: 10000})
	require.NoError(t, err)
	require.Len(t, result.Sheets, 1)
	assert.True(t, result.Sheets[0].Placements[0].Rotated)
}

func TestGuillotinePack_FullCutSplits(t *testing.T) {
	pieces := []Piece2D{
		{ID: "P", W: 600, H: 600, Quantity: 1},
		{ID: "Q", W: 400, H: 400, Quantity: 1},
		{ID: "R", W: 300, H: 300, Quantity: 1},
	}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 1}}
	opts := Options{GuillotineOnly: true, MinUsableWaste: 10000}

	result, err := GuillotinePack(context.Background(), pieces, stock, opts)
	require.NoError(t, err)

	require.Len(t, result.Sheets, 1)
	placements := result.Sheets[0].Placements
	require.Len(t, placements, 3)
	assert.Empty(t, result.Unplaced)

	// First placement anchors the sheet origin; the sheet splits into a
	// 400x600 right strip and a 1000x400 top strip.
	assert.Equal(t, Placement{PieceID: "P", X: 0, Y: 0, W: 600, H: 600}, placements[0])
	// Best-area-fit sends the 400 square into the right strip.
	assert.Equal(t, Placement{PieceID: "Q", X: 600, Y: 0, W: 400, H: 400}, placements[1])
	// The 300 square lands in the surviving top strip.
	assert.Equal(t, Placement{PieceID: "R", X: 0, Y: 600, W: 300, H: 300}, placements[2])
}

func TestGuillotinePack_MultiSheet(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 800, H: 800, Quantity: 3}}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 5}}

	result, err := GuillotinePack(context.Background(), pieces, stock, Options{MinUsableWaste: 10000})
	require.NoError(t, err)

	// One 800-square per sheet; nothing else fits next to it.
	assert.Len(t, result.Sheets, 3)
	assert.Empty(t, result.Unplaced)
}

func TestGuillotinePack_StockExhausted(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 800, H: 800, Quantity: 3}}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 2}}

	result, err := GuillotinePack(context.Background(), pieces, stock, Options{MinUsableWaste: 10000})
	require.NoError(t, err)

	assert.Len(t, result.Sheets, 2)
	require.Len(t, result.Unplaced, 1)
	assert.Equal(t, "P", result.Unplaced[0].ID)
}

func TestGuillotinePack_UsableWasteThreshold(t *testing.T) {
	pieces := []Piece2D{{ID: "P", W: 900, H: 900, Quantity: 1}}
	stock := []Stock2D{{ID: "S", W: 1000, H: 1000, Available: 1}}

	// Largest residual is 1000x100 = 100000 mm².
	result, err := GuillotinePack(context.Background(), pieces, stock, Options{MinUsableWaste: 10000})
	require.NoError(t, err)
	require.Len(t, result.Sheets, 1)
	assert.Equal(t, 100000.0, result.Sheets[0].UsableWaste)

	// Raise the threshold above the residual: it becomes scrap.
	result, err = GuillotinePack(context.Background(), pieces, stock, Options{MinUsableWaste: 200000})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Sheets[0].UsableWaste)
}

func TestTwoDim_Deterministic(t *testing.T) {
	pieces := []Piece2D{
		{ID: "A", W: 500, H: 300, Quantity: 3, CanRotate: true},
		{ID: "B", W: 450, H: 450, Quantity: 2},
		{ID: "C", W: 200, H: 700, Quantity: 2, CanRotate: true},
	}
	stock := []Stock2D{
		{ID: "S1", W: 1220, H: 2440, Available: 2, UnitPrice: 40},
		{ID: "S2", W: 1000, H: 1000, Available: 4, UnitPrice: 15},
	}
	opts := Options{Kerf: 3, AllowRotation: true, MinUsableWaste: 10000}

	for _, strategy := range []Strategy2D{BottomLeftFill, GuillotinePack} {
		first, err := strategy(context.Background(), pieces, stock, opts)
		require.NoError(t, err)
		second, err := strategy(context.Background(), pieces, stock, opts)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestTwoDim_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GuillotinePack(ctx, []Piece2D{{ID: "P", W: 10, H: 10, Quantity: 1}},
		[]Stock2D{{ID: "S", W: 100, H: 100, Available: 1}}, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
