package catalog

import (
	"context"

	"deliveryd/internal/runtime/filewatch"
	logx "deliveryd/pkg/logx"
)

// Watch reloads from loader whenever one of its files changes. It blocks
// until ctx is done.
func (r *Registry) Watch(ctx context.Context, loader FileLoader) error {
	return filewatch.Watch(ctx, loader.Paths(), filewatch.Options{Log: r.log}, func() {
		res := r.ReloadWithResult(ctx, loader)
		if res.Success && len(res.Errors) > 0 {
			for _, e := range res.Errors {
				r.log.Warn("catalog finding",
					logx.String("severity", string(e.Severity)),
					logx.String("path", e.Path),
					logx.String("msg", e.Message),
				)
			}
		}
	})
}
