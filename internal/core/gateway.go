package core

import "context"

// Gateway is the single collaborator all four subsystems funnel through: it
// knows how to invoke a named operation on a named plugin with a parameter
// mapping. Implementations must be safe for concurrent use: the Batch
// Processor, Polling Manager and Webhook handlers all share one instance
// read-only.
type Gateway interface {
	ExecuteOperation(ctx context.Context, plugin, operation string, params Params) (Result, error)
}

// RefreshHandler is the per-plugin registration consumed by the Response
// Cache's refresh contract. The Cache invokes it with its mutex released
// (consistent with the fabric's handlers-never-run-under-the-lock rule), but
// it still must not re-enter the same Cache instance: doing so would race
// the in-flight Put the Cache performs with the handler's result.
type RefreshHandler interface {
	Refresh(operation string, params Params, oldData any) (Result, error)
}

// RefreshHandlerFunc adapts a plain function to a RefreshHandler.
type RefreshHandlerFunc func(operation string, params Params, oldData any) (Result, error)

func (f RefreshHandlerFunc) Refresh(operation string, params Params, oldData any) (Result, error) {
	return f(operation, params, oldData)
}

// GatewayFunc adapts a plain function to a Gateway, for wiring tests and
// small in-process demo plugins without a full registry.
type GatewayFunc func(ctx context.Context, plugin, operation string, params Params) (Result, error)

func (f GatewayFunc) ExecuteOperation(ctx context.Context, plugin, operation string, params Params) (Result, error) {
	return f(ctx, plugin, operation, params)
}
