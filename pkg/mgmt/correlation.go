package mgmt

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/uuid"
)

const (
	CorrelationHeader = "x-ms-correlation-request-id"
	CommandNameHeader = "CommandName"
	commandPrefix     = "iot ops "
)

type correlationKey struct{}

// Correlation identifies one batch of write calls.
type Correlation struct {
	ID      string
	Command string
}

// WithCorrelation returns a context whose management-plane requests carry a fresh correlation id
// and the "iot ops <verb>" command name.
func WithCorrelation(ctx context.Context, verb string) (context.Context, Correlation) {
	corr := Correlation{ID: uuid.NewString(), Command: commandPrefix + verb}
	header := http.Header{}
	header.Set(CorrelationHeader, corr.ID)
	header.Set(CommandNameHeader, corr.Command)
	ctx = policy.WithHTTPHeader(ctx, header)
	return context.WithValue(ctx, correlationKey{}, corr), corr
}

// CorrelationFromContext returns the correlation set by WithCorrelation, if any.
func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	corr, ok := ctx.Value(correlationKey{}).(Correlation)
	return corr, ok
}
