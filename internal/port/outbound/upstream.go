// Package outbound defines the outbound port interfaces for invoking
// upstream REST APIs.
package outbound

import (
	"context"

	"github.com/toolbridge/toolbridge/internal/domain/catalog"
	"github.com/toolbridge/toolbridge/internal/domain/transform"
)

// UpstreamResponse is the normalized upstream response envelope.
type UpstreamResponse struct {
	// Status is the upstream HTTP status code.
	Status int
	// Data is parsed JSON for application/json responses, raw text otherwise.
	Data interface{}
	// Headers holds the upstream response headers (first value each).
	Headers map[string]string
}

// UpstreamInvoker executes the HTTP request described by an upstream API,
// a transformed payload, and the raw call arguments. HTTP error statuses
// are returned in the response, not as errors; transport failures are.
type UpstreamInvoker interface {
	Invoke(ctx context.Context, api *catalog.UpstreamAPI, payload transform.Payload, args transform.Arguments) (*UpstreamResponse, []string, error)
}
