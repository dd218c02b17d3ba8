package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/adrianpk/gatekeeper/internal/gate"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	ObserveDecision("bash", "allow", 2*time.Millisecond)
	ObservePolicyReload(nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"gatekeeper_decisions_total", "gatekeeper_decision_duration_seconds", "gatekeeper_policy_reloads_total"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestObserveDecision(t *testing.T) {
	before := testutil.ToFloat64(Decisions.WithLabelValues("fetch", "deny"))
	ObserveDecision("fetch", "deny", time.Millisecond)
	if got := testutil.ToFloat64(Decisions.WithLabelValues("fetch", "deny")); got != before+1 {
		t.Errorf("decisions = %v, want %v", got, before+1)
	}
}

func TestObservePolicyReload(t *testing.T) {
	okBefore := testutil.ToFloat64(PolicyReloads.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(PolicyReloads.WithLabelValues("error"))

	ObservePolicyReload(nil)
	ObservePolicyReload(errors.New("bad yaml"))

	if got := testutil.ToFloat64(PolicyReloads.WithLabelValues("ok")); got != okBefore+1 {
		t.Errorf("ok reloads = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(PolicyReloads.WithLabelValues("error")); got != errBefore+1 {
		t.Errorf("error reloads = %v, want %v", got, errBefore+1)
	}
}

func TestObserveGateCheck(t *testing.T) {
	ObserveGateCheck("pre-push", gate.Result{Name: "tests", Passed: false, Failure: gate.FailTimeout, Duration: time.Second})
	if n := testutil.CollectAndCount(GateCheckDuration, "gatekeeper_gate_check_duration_seconds"); n == 0 {
		t.Error("expected gate check observations")
	}
}
