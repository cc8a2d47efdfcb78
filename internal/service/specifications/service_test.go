package specifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
	badgerrepo "github.com/animus-labs/analyses-go/internal/repo/badger"
	"github.com/animus-labs/analyses-go/internal/service/definitions"
)

type fixture struct {
	matcher  *Matcher
	analysis domain.Analysis
	store    *badgerrepo.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := badgerrepo.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	analysis, _, err := store.CreateAnalysis(context.Background(), domain.Analysis{Title: "Brain Extraction"})
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	return fixture{
		matcher:  New(definitions.New(store, logger), store, logger),
		analysis: analysis,
		store:    store,
	}
}

func def(key string, kind domain.Kind) domain.Definition {
	return domain.Definition{Key: key, Direction: domain.DirectionInput, Kind: kind}
}

func TestNewRequiresDependencies(t *testing.T) {
	if New(nil, nil, nil) != nil {
		t.Fatalf("expected nil matcher without dependencies")
	}
}

func TestMatchOrCreateUsesSetEquality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := def("a", domain.KindString), def("b", domain.KindInteger), def("c", domain.KindBoolean)

	ab, created, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionInput, []domain.Definition{a, b})
	if err != nil || !created {
		t.Fatalf("create {a,b}: created=%v err=%v", created, err)
	}

	again, created, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionInput, []domain.Definition{b, a})
	if err != nil {
		t.Fatalf("match {b,a}: %v", err)
	}
	if created || again.ID != ab.ID {
		t.Fatalf("expected {b,a} to match %s, got %s (created=%v)", ab.ID, again.ID, created)
	}

	subset, created, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionInput, []domain.Definition{a})
	if err != nil || !created {
		t.Fatalf("create {a}: created=%v err=%v", created, err)
	}
	if subset.ID == ab.ID {
		t.Fatalf("subset must not match superset specification")
	}

	superset, created, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionInput, []domain.Definition{a, b, c})
	if err != nil || !created {
		t.Fatalf("create {a,b,c}: created=%v err=%v", created, err)
	}
	if superset.ID == ab.ID || superset.ID == subset.ID {
		t.Fatalf("superset must get its own specification")
	}
	if got := superset.Keys(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected superset keys %v", got)
	}
}

func TestMatchOrCreateIsScopedToAnalysisAndDirection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, _, err := f.store.CreateAnalysis(ctx, domain.Analysis{Title: "Cortical Thickness"})
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	a := def("a", domain.KindString)

	first, _, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionInput, []domain.Definition{a})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	second, created, err := f.matcher.MatchOrCreate(ctx, other.ID, domain.DirectionInput, []domain.Definition{a})
	if err != nil {
		t.Fatalf("match other analysis: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Fatalf("expected a separate specification for another analysis")
	}
}

func TestMatchOrCreateEmptySetIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionOutput, nil)
	if err != nil {
		t.Fatalf("create empty: %v", err)
	}
	second, created, err := f.matcher.MatchOrCreate(ctx, f.analysis.ID, domain.DirectionOutput, nil)
	if err != nil {
		t.Fatalf("match empty: %v", err)
	}
	if created || first.ID != second.ID {
		t.Fatalf("expected the empty specification to be reused")
	}
}

func TestMatchOrCreateRejectsMixedDirections(t *testing.T) {
	f := newFixture(t)
	out := domain.Definition{Key: "mask", Direction: domain.DirectionOutput, Kind: domain.KindFile}
	_, _, err := f.matcher.MatchOrCreate(context.Background(), f.analysis.ID, domain.DirectionInput, []domain.Definition{out})
	if err == nil {
		t.Fatalf("expected direction mismatch error")
	}
}

func TestMatchReturnsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.matcher.Match(context.Background(), f.analysis.ID, domain.DirectionInput, []string{"missing"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type ambiguousSpecs struct {
	repo.SpecificationRepository
}

func (ambiguousSpecs) FindSpecificationCandidates(context.Context, string, domain.Direction, []string) ([]repo.SpecificationCandidate, error) {
	return []repo.SpecificationCandidate{
		{SpecificationID: "s1", MemberCount: 1, Overlap: 1},
		{SpecificationID: "s2", MemberCount: 1, Overlap: 1},
	}, nil
}

func TestMatchOrCreateFailsOnAmbiguity(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(definitions.New(f.store, logger), ambiguousSpecs{SpecificationRepository: f.store}, logger)

	_, _, err := m.MatchOrCreate(context.Background(), f.analysis.ID, domain.DirectionInput, []domain.Definition{def("a", domain.KindString)})
	if !errors.Is(err, ErrSpecificationAmbiguous) {
		t.Fatalf("expected ErrSpecificationAmbiguous, got %v", err)
	}
}
