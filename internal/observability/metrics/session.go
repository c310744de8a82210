package metrics

import (
	"time"

	obserrors "github.com/target/clinic-session/internal/observability/errors"
	"github.com/target/clinic-session/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// AuthMetric captures one session action for metric emission.
type AuthMetric struct {
	Action   string // login, register, fetch_user, logout
	Result   string
	Duration time.Duration
	Err      error
}

// EmitAuthAction emits standardised session action metrics.
func EmitAuthAction(sink statsd.Sink, in AuthMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"action": in.Action,
		"result": in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("session.action", 1, tags)
	if in.Duration > 0 {
		sink.Timing("session.action.duration", in.Duration, CloneTags(tags))
	}
}

// EmitGuardDecision counts navigation guard outcomes by decision kind.
func EmitGuardDecision(sink statsd.Sink, decision, route string) {
	if sink == nil {
		return
	}
	sink.Count("guard.decision", 1, map[string]string{"decision": decision, "route": route})
}

// EmitSessionExpired counts credential rejections detected in flight.
func EmitSessionExpired(sink statsd.Sink) {
	if sink == nil {
		return
	}
	sink.Count("session.expired", 1, nil)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
