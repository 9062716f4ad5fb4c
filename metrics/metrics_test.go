package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterRejectsDuplicateRegistration(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	m.Register(reg)

	if err := reg.Register(m.IndexedHeight); err == nil {
		t.Fatalf("expected a duplicate-registration error, got nil")
	}
}

func TestRPCErrorsByClassPartitionsByLabel(t *testing.T) {
	m := New()
	m.RPCErrorsByClass.WithLabelValues("upstream_unavailable").Inc()
	m.RPCErrorsByClass.WithLabelValues("chain_inconsistency").Inc()
	m.RPCErrorsByClass.WithLabelValues("chain_inconsistency").Inc()

	if got := testutil.ToFloat64(m.RPCErrorsByClass.WithLabelValues("chain_inconsistency")); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
}
