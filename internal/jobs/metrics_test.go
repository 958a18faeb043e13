package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("lease_sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("lease_sweep").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("lease_sweep", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("lease_sweep", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("lease_sweep")))
}

func TestDomainCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.AddInvoices(2, 1)
	m.AddNotification("PAGAMENTO_VENCIDO")
	m.AddNotification("PAGAMENTO_VENCIDO")
	m.AddLeasesExpired(3)
	m.AddLeasesExpired(0)
	m.Skip("notification_sweep")

	require.Equal(t, 2.0, testutil.ToFloat64(m.invoices))
	require.Equal(t, 1.0, testutil.ToFloat64(m.invoiceErrors))
	require.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("PAGAMENTO_VENCIDO")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.leasesExpired))
	require.Equal(t, 1.0, testutil.ToFloat64(m.skips.WithLabelValues("notification_sweep")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("x").End(nil))
	m.AddInvoices(1, 1)
	m.AddNotification("GERAL")
	m.AddLeasesExpired(1)
	m.Skip("x")
}
