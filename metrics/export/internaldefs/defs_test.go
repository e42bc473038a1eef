package internaldefs

import (
	"math"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
)

func TestCounterDefsUniqueAndPrefixed(t *testing.T) {
	names := map[string]bool{}
	ids := map[authgate.MetricID]bool{}
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "authgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if names[def.Name] || ids[def.ID] {
			t.Fatalf("duplicate counter %q", def.Name)
		}
		names[def.Name] = true
		ids[def.ID] = true
	}
	if ids[authgate.MetricCaptchaRenderLatency] {
		t.Fatal("histogram id exported as counter")
	}
}

func TestHistogramBoundsMatchEngine(t *testing.T) {
	if len(HistogramBounds) != len(authgate.HistogramBounds) {
		t.Fatalf("bound count mismatch: %d vs %d", len(HistogramBounds), len(authgate.HistogramBounds))
	}
	for i, d := range authgate.HistogramBounds {
		if math.Abs(HistogramBounds[i]-d.Seconds()) > 1e-12 {
			t.Fatalf("bound %d: got %v want %v", i, HistogramBounds[i], d.Seconds())
		}
	}
	if len(HistogramBoundSuffix) != len(HistogramBounds)+1 {
		t.Fatal("expected one suffix per bucket plus +Inf")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
