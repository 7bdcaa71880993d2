package neighborhood

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/ms2rank/internal/domain"
	"github.com/kailas-cloud/ms2rank/internal/domain/policy"
	"github.com/kailas-cloud/ms2rank/internal/domain/spectrum"
	"github.com/kailas-cloud/ms2rank/internal/domain/structure"
	"github.com/kailas-cloud/ms2rank/internal/identity"
)

const eps = 1e-9

func buildIndex(t *testing.T) *identity.Index {
	t.Helper()
	entries := []spectrum.Entry{
		{ID: "s1", StructureID: "S"},
		{ID: "n1a", StructureID: "N1"},
		{ID: "n1b", StructureID: "N1"},
		{ID: "n2a", StructureID: "N2"},
	}
	neighbors := map[string][]structure.Neighbor{
		"S":     {{ID: "N1", Similarity: 0.5}, {ID: "N2", Similarity: 0.25}, {ID: "EMPTY", Similarity: 0.9}},
		"N1":    {{ID: "S", Similarity: 0.5}},
		"EMPTY": {},
	}
	ix, err := identity.Build(entries, neighbors, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ix
}

var scores = SeriesMap{"s1": 0.9, "n1a": 0.8, "n1b": 0.6, "n2a": 0.4}

func TestAggregate_OwnAndNeighborhood(t *testing.T) {
	ix := buildIndex(t)
	svc, err := New(ix, ix, 10, policy.Skip)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := svc.Aggregate(context.Background(), scores, []string{"S"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := res.Signals["S"]
	if !sig.HasOwn || sig.Own.Count != 1 || math.Abs(sig.Own.Score-0.9) > eps {
		t.Errorf("unexpected own aggregate: %+v", sig.Own)
	}

	// w(N1) = 2*0.5 = 1.0, avg 0.7; w(N2) = 1*0.25 = 0.25, avg 0.4; EMPTY has no members.
	nb := sig.Neighborhood
	if math.Abs(nb.Score-0.64) > eps {
		t.Errorf("expected neighborhood score 0.64, got %f", nb.Score)
	}
	if nb.Count != 3 {
		t.Errorf("expected neighborhood count 3, got %d", nb.Count)
	}
	if math.Abs(nb.Similarity-1.25/3) > eps {
		t.Errorf("expected average similarity %f, got %f", 1.25/3, nb.Similarity)
	}
	if len(res.Skipped) != 0 {
		t.Errorf("expected no skips, got %v", res.Skipped)
	}
}

func TestAggregate_ZeroMembersOmitted(t *testing.T) {
	ix := buildIndex(t)
	svc, _ := New(ix, ix, 10, policy.Skip)

	res, err := svc.Aggregate(context.Background(), scores, []string{"EMPTY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sig := res.Signals["EMPTY"]
	if sig.HasOwn {
		t.Error("expected own aggregate to be omitted")
	}
	if math.IsNaN(sig.Own.Score) || math.IsNaN(sig.Neighborhood.Score) || math.IsNaN(sig.Neighborhood.Similarity) {
		t.Errorf("NaN leaked into signals: %+v", sig)
	}
}

func TestAggregate_UnscoredMembersIgnored(t *testing.T) {
	ix := buildIndex(t)
	svc, _ := New(ix, ix, 10, policy.Skip)

	res, err := svc.Aggregate(context.Background(), SeriesMap{"n1a": 0.5}, []string{"N1", "S"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o := res.Signals["N1"].Own; o.Count != 1 || o.Score != 0.5 {
		t.Errorf("expected (0.5, 1), got %+v", o)
	}
	if res.Signals["S"].HasOwn {
		t.Error("S has no scored members")
	}
	if nb := res.Signals["S"].Neighborhood; nb.Count != 1 || nb.Score != 0.5 || nb.Similarity != 0.5 {
		t.Errorf("unexpected neighborhood: %+v", nb)
	}
}

func TestAggregate_NoNeighborsIsZero(t *testing.T) {
	ix := buildIndex(t)
	svc, _ := New(ix, ix, 10, policy.Skip)

	res, err := svc.Aggregate(context.Background(), scores, []string{"N2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nb := res.Signals["N2"].Neighborhood
	if nb != (Neighborhood{}) {
		t.Errorf("expected zero neighborhood, got %+v", nb)
	}
}

func TestAggregate_UnknownStructure(t *testing.T) {
	ix := buildIndex(t)

	t.Run("skip", func(t *testing.T) {
		svc, _ := New(ix, ix, 10, policy.Skip)
		res, err := svc.Aggregate(context.Background(), scores, []string{"UNKNOWN", "S"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Skipped) != 1 || res.Skipped[0].Reason != ReasonUnknownStructure {
			t.Fatalf("expected one unknown_structure skip, got %v", res.Skipped)
		}
		if _, ok := res.Signals["UNKNOWN"]; !ok {
			t.Error("skipped structure must still get zero signals")
		}
		if !res.Signals["S"].HasOwn {
			t.Error("known structure must still be aggregated")
		}
	})

	t.Run("abort", func(t *testing.T) {
		svc, _ := New(ix, ix, 10, policy.Abort)
		_, err := svc.Aggregate(context.Background(), scores, []string{"UNKNOWN"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

type failingSource struct{ err error }

func (f failingSource) NeighborsOf(context.Context, string, int) ([]structure.Neighbor, error) {
	return nil, f.err
}

func TestAggregate_NeighborSourceErrors(t *testing.T) {
	ix := buildIndex(t)

	svc, _ := New(ix, failingSource{err: domain.NewNotFound("neighbors", "S")}, 10, policy.Skip)
	res, err := svc.Aggregate(context.Background(), scores, []string{"S"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Reason != ReasonMissingNeighbors {
		t.Errorf("expected missing_neighbors skip, got %v", res.Skipped)
	}
	if !res.Signals["S"].HasOwn {
		t.Error("own aggregate must survive a missing neighbor list")
	}

	boom := errors.New("connection refused")
	svc, _ = New(ix, failingSource{err: boom}, 10, policy.Skip)
	if _, err := svc.Aggregate(context.Background(), scores, []string{"S"}); !errors.Is(err, boom) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}

func TestAggregate_NeighborKLimit(t *testing.T) {
	ix := buildIndex(t)
	svc, _ := New(ix, ix, 1, policy.Skip)

	res, err := svc.Aggregate(context.Background(), scores, []string{"S"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only EMPTY (0.9) is read and it has no members.
	if nb := res.Signals["S"].Neighborhood; nb.Count != 0 {
		t.Errorf("expected no neighbor evidence with k=1, got %+v", nb)
	}
}

func TestNew_Validation(t *testing.T) {
	ix := buildIndex(t)
	if _, err := New(ix, ix, 0, policy.Skip); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for k=0, got %v", err)
	}
	if _, err := New(ix, ix, 5, "later"); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for bad policy, got %v", err)
	}
	if _, err := New(nil, ix, 5, policy.Skip); err == nil {
		t.Error("expected error for nil members")
	}
}
