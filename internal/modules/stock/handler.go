package stock

import (
	"context"
	"encoding/json"

	"github.com/aristath/opticut/internal/services"
)

// RegistryHandler exposes the stock module over the in-process registry.
func (r *Repository) RegistryHandler() services.Handler {
	return func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		if method == "POST" && path == "/stock/available" {
			return r.handleAvailable(ctx, data)
		}
		return services.Fail("NOT_FOUND", "unknown stock route: "+method+" "+path)
	}
}

func (r *Repository) handleAvailable(ctx context.Context, data map[string]interface{}) services.Response {
	var query services.StockQuery
	raw, err := json.Marshal(data)
	if err != nil {
		return services.Fail("VALIDATION_ERROR", "invalid stock query")
	}
	if err := json.Unmarshal(raw, &query); err != nil {
		return services.Fail("VALIDATION_ERROR", "invalid stock query: "+err.Error())
	}
	if query.MaterialTypeID == "" {
		return services.Fail("VALIDATION_ERROR", "materialTypeId is required")
	}

	items, err := r.FindAvailable(ctx, query)
	if err != nil {
		r.log.Error().Err(err).Msg("Stock query failed")
		return services.Fail("INTERNAL_ERROR", err.Error())
	}

	out := make([]services.StockItem, 0, len(items))
	for _, item := range items {
		out = append(out, services.StockItem{
			ID:          item.ID,
			Label:       item.Label,
			Length:      item.Length,
			Width:       item.Width,
			Quantity:    item.Quantity - item.ReservedQty,
			UnitPrice:   item.UnitPrice,
			StockType:   item.StockType,
			IsFromWaste: item.IsFromWaste,
		})
	}
	return services.OK(out)
}
