package cmd

import (
	"context"

	"github.com/vitaliisemenov/apifabric/internal/core"
)

// echoGateway is a placeholder core.Gateway for standalone fabricd runs: it
// answers every operation with the parameters it was given instead of
// calling out to a real plugin. Wiring an actual plugin registry is outside
// this daemon's scope; this keeps `fabricd serve` runnable on its own for
// smoke-testing the cache/batch/polling/webhook wiring.
type echoGateway struct{}

func (echoGateway) ExecuteOperation(ctx context.Context, plugin, operation string, params core.Params) (core.Result, error) {
	return core.Ok(map[string]any{"plugin": plugin, "operation": operation, "params": params}), nil
}
