package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	req.NoError(err)

	m.EventReceived("message")
	m.EventReceived("message")
	m.EventReceived("connect")
	m.HandlerDone("ping", time.Millisecond, nil)
	m.HandlerDone("ping", time.Millisecond, errors.New("boom"))
	m.RequestDone("send_message", nil)
	m.RequestDone("send_message", errors.New("timeout"))
	m.Reconnected(nil)
	m.SetConnected(true)

	req.InDelta(2, testutil.ToFloat64(m.events.WithLabelValues("message")), 0)
	req.InDelta(1, testutil.ToFloat64(m.events.WithLabelValues("connect")), 0)
	req.InDelta(1, testutil.ToFloat64(m.handlerErrors.WithLabelValues("ping")), 0)
	req.InDelta(1, testutil.ToFloat64(m.requests.WithLabelValues("send_message", "error")), 0)
	req.InDelta(1, testutil.ToFloat64(m.reconnects.WithLabelValues("ok")), 0)
	req.InDelta(1, testutil.ToFloat64(m.connected), 0)

	m.SetConnected(false)
	req.InDelta(0, testutil.ToFloat64(m.connected), 0)
}

func TestNewSharesCollectorsOnSameRegistry(t *testing.T) {
	t.Parallel()
	req := require.New(t)

	reg := prometheus.NewRegistry()
	first, err := New(reg)
	req.NoError(err)
	second, err := New(reg)
	req.NoError(err)

	first.Reconnected(nil)
	second.Reconnected(nil)
	req.InDelta(2, testutil.ToFloat64(first.reconnects.WithLabelValues("ok")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.EventReceived("message")
		m.HandlerDone("h", time.Second, errors.New("x"))
		m.RequestDone("ping", nil)
		m.Reconnected(nil)
		m.SetConnected(true)
	})
}
