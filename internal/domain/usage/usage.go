// Package usage defines the fire-and-forget usage event emitted on every
// dispatcher branch.
package usage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Event is one recorded protocol interaction.
type Event struct {
	// ToolID is the invoked tool, empty for non-call branches.
	ToolID string
	// ServerID is the tool server handling the request.
	ServerID string
	// ArgShape is a fingerprint of the argument names (not values).
	ArgShape string
	// Success is false when the branch produced a protocol error or the
	// upstream returned an error status.
	Success bool
	// Status is the upstream HTTP status, 0 when no upstream was called.
	Status int
	// LatencyMS is the handling latency in milliseconds.
	LatencyMS int64
	// ErrorText carries the error message, if any.
	ErrorText string
	// CreatedAt is when the event was recorded (UTC).
	CreatedAt time.Time
}

// Writer persists usage events. Implemented by the store; failures are
// isolated from the caller-visible response.
type Writer interface {
	SaveUsageEvent(ctx context.Context, ev *Event) error
}

// ArgShape fingerprints the argument names of a call. Values are excluded:
// the shape identifies how a tool is called, not with what.
func ArgShape(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	_, _ = h.WriteString(strings.Join(names, ","))
	return strconv.FormatUint(h.Sum64(), 16)
}
