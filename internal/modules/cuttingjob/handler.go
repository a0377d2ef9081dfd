package cuttingjob

import (
	"context"
	"strings"

	"github.com/aristath/opticut/internal/services"
)

// RegistryHandler exposes the cutting job module over the in-process registry.
func (r *Repository) RegistryHandler() services.Handler {
	return func(ctx context.Context, method, path string, data map[string]interface{}) services.Response {
		if method == "GET" && strings.HasPrefix(path, "/cutting-jobs/") {
			id := strings.TrimPrefix(path, "/cutting-jobs/")
			if id == "" || strings.Contains(id, "/") {
				return services.Fail("NOT_FOUND", "unknown cutting job route: "+path)
			}
			job, err := r.FindByID(ctx, id)
			if err != nil {
				if strings.Contains(err.Error(), "not found") {
					return services.Fail("JOB_NOT_FOUND", err.Error())
				}
				return services.Fail("INTERNAL_ERROR", err.Error())
			}
			return services.OK(job)
		}
		return services.Fail("NOT_FOUND", "unknown cutting job route: "+method+" "+path)
	}
}
