// Package observers provides callback handlers attached to every graph run
// for stage-level tracing.
package observers

import (
	"context"
	"fmt"

	einocb "github.com/cloudwego/eino/callbacks"
)

// NewAllCallbacks aggregates the observer handlers into one callbacks.Handler.
// Every node start, end, and error is printed with its node name so a run can
// be followed stage by stage.
func NewAllCallbacks() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, input einocb.CallbackInput) context.Context {
			if info != nil && info.Name != "" {
				fmt.Printf("[Stage|%s] start\n", info.Name)
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, output einocb.CallbackOutput) context.Context {
			if info != nil && info.Name != "" {
				fmt.Printf("[Stage|%s] end\n", info.Name)
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			if info != nil {
				fmt.Printf("[Stage|%s] error: %v\n", info.Name, err)
			}
			return ctx
		}).
		Build()
}
