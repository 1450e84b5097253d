package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("nil metrics is a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.SessionStarted()
			m.RecordRoomConnect("main", 1, nil)
			m.RecordEnrichment("format", 0.1, nil)
			m.RecordCompilation("final", true)
			m.SetSignalingPeers(3)
		})
	})

	t.Run("records room connects", func(t *testing.T) {
		m := New(prometheus.NewRegistry())

		m.RecordRoomConnect("main", 1, nil)
		m.RecordRoomConnect("breakout", 3, errors.New("boom"))

		assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomConnects.WithLabelValues("main", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomConnects.WithLabelValues("breakout", "error")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRooms))

		m.RoomDisconnected()
		assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRooms))
	})

	t.Run("records enrichment outcomes", func(t *testing.T) {
		m := New(prometheus.NewRegistry())

		m.RecordEnrichment("summarize", 0.2, nil)
		m.RecordEnrichment("summarize", 0.2, errors.New("down"))

		assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentJobs.WithLabelValues("summarize", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentJobs.WithLabelValues("summarize", "error")))
	})
}
