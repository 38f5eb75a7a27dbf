package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// promauto registers against the default registry at init, so the main goal
// here is exercising each collector without panics and sanity-checking the
// counter plumbing.
func TestCollectorsAreUsable(t *testing.T) {
	t.Run("Connections", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveConnections)
		IncConnection()
		if got := testutil.ToFloat64(ActiveConnections); got != before+1 {
			t.Errorf("Expected gauge %v after IncConnection, got %v", before+1, got)
		}
		DecConnection()
		if got := testutil.ToFloat64(ActiveConnections); got != before {
			t.Errorf("Expected gauge %v after DecConnection, got %v", before, got)
		}
	})

	t.Run("WebsocketEvents", func(t *testing.T) {
		WebsocketEvents.WithLabelValues("SUBMIT_THOUGHT", "success").Inc()
		val := testutil.ToFloat64(WebsocketEvents.WithLabelValues("SUBMIT_THOUGHT", "success"))
		if val < 1 {
			t.Errorf("Expected WebsocketEvents to be at least 1, got %v", val)
		}
	})

	t.Run("RoomParticipants", func(t *testing.T) {
		RoomParticipants.WithLabelValues("AB12CD").Set(3)
		if got := testutil.ToFloat64(RoomParticipants.WithLabelValues("AB12CD")); got != 3 {
			t.Errorf("Expected participants 3, got %v", got)
		}
		RoomParticipants.DeleteLabelValues("AB12CD")
	})

	t.Run("CircuitBreakerState", func(t *testing.T) {
		CircuitBreakerState.WithLabelValues("lms").Set(1)
		if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("lms")); got != 1 {
			t.Errorf("Expected breaker state 1, got %v", got)
		}
		CircuitBreakerState.WithLabelValues("lms").Set(0)
	})

	t.Run("Histogram", func(t *testing.T) {
		MessageProcessingDuration.WithLabelValues("TRIGGER_SWAP").Observe(0.01)
	})

	t.Run("RateLimit", func(t *testing.T) {
		RateLimitRequests.WithLabelValues("/ws").Inc()
		RateLimitExceeded.WithLabelValues("/ws", "ip").Inc()
	})
}
