package definitions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/animus-labs/analyses-go/internal/domain"
	"github.com/animus-labs/analyses-go/internal/repo"
	"github.com/animus-labs/analyses-go/internal/validation"
)

type fakeDefinitions struct {
	byFingerprint map[string]domain.Definition
	creates       int
}

func newFakeDefinitions() *fakeDefinitions {
	return &fakeDefinitions{byFingerprint: map[string]domain.Definition{}}
}

func (f *fakeDefinitions) CreateDefinition(_ context.Context, def domain.Definition, fingerprint string) (domain.Definition, bool, error) {
	if existing, ok := f.byFingerprint[fingerprint]; ok {
		return existing, false, nil
	}
	f.creates++
	def.ID = fingerprint[:8]
	f.byFingerprint[fingerprint] = def
	return def, true, nil
}

func (f *fakeDefinitions) GetDefinition(_ context.Context, id string) (domain.Definition, error) {
	for _, def := range f.byFingerprint {
		if def.ID == id {
			return def, nil
		}
	}
	return domain.Definition{}, repo.ErrNotFound
}

func (f *fakeDefinitions) GetDefinitions(ctx context.Context, ids []string) ([]domain.Definition, error) {
	out := make([]domain.Definition, 0, len(ids))
	for _, id := range ids {
		def, err := f.GetDefinition(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func (f *fakeDefinitions) ListDefinitions(context.Context, repo.DefinitionFilter) ([]domain.Definition, error) {
	out := make([]domain.Definition, 0, len(f.byFingerprint))
	for _, def := range f.byFingerprint {
		out = append(out, def)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRequiresRepository(t *testing.T) {
	if New(nil, nil) != nil {
		t.Fatalf("expected nil registry without repository")
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	defs := newFakeDefinitions()
	r := New(defs, testLogger())

	def := domain.Definition{Key: " threshold ", Direction: domain.DirectionInput, Kind: domain.KindFloat, Min: domain.Float64(0), Max: domain.Float64(1)}
	first, created, err := r.Register(context.Background(), def)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !created {
		t.Fatalf("expected first registration to create")
	}
	if first.Key != "threshold" {
		t.Fatalf("expected trimmed key, got %q", first.Key)
	}

	second, created, err := r.Register(context.Background(), def)
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing definition %s, got %s (created=%v)", first.ID, second.ID, created)
	}
	if defs.creates != 1 {
		t.Fatalf("expected one stored definition, got %d", defs.creates)
	}
}

func TestRegisterRejectsDefaultOutsideChoices(t *testing.T) {
	r := New(newFakeDefinitions(), testLogger())
	def := domain.Definition{
		Key:       "mode",
		Direction: domain.DirectionInput,
		Kind:      domain.KindString,
		Choices:   []string{"fast", "accurate"},
		Default:   ptr(domain.StringValue("slow")),
	}
	_, _, err := r.Register(context.Background(), def)
	if !errors.Is(err, validation.ErrNotInChoices) {
		t.Fatalf("expected ErrNotInChoices, got %v", err)
	}
}

func TestRegisterAllRejectsDuplicateKeys(t *testing.T) {
	defs := newFakeDefinitions()
	r := New(defs, testLogger())
	_, err := r.RegisterAll(context.Background(), []domain.Definition{
		{Key: "bins", Direction: domain.DirectionInput, Kind: domain.KindInteger},
		{Key: "bins", Direction: domain.DirectionInput, Kind: domain.KindFloat},
	})
	if !validation.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if defs.creates != 0 {
		t.Fatalf("expected nothing stored, got %d", defs.creates)
	}
}

func TestRegisterAllPreservesOrder(t *testing.T) {
	r := New(newFakeDefinitions(), testLogger())
	out, err := r.RegisterAll(context.Background(), []domain.Definition{
		{Key: "z", Direction: domain.DirectionOutput, Kind: domain.KindFile},
		{Key: "a", Direction: domain.DirectionOutput, Kind: domain.KindFile},
	})
	if err != nil {
		t.Fatalf("register all: %v", err)
	}
	if len(out) != 2 || out[0].Key != "z" || out[1].Key != "a" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestValidateAppliesDefault(t *testing.T) {
	r := New(newFakeDefinitions(), testLogger())
	def := domain.Definition{Key: "bins", Direction: domain.DirectionInput, Kind: domain.KindInteger, Default: ptr(domain.IntegerValue(10))}

	v, present, err := r.Validate(def, nil)
	if err != nil || !present {
		t.Fatalf("expected default, got present=%v err=%v", present, err)
	}
	if !v.Equal(domain.IntegerValue(10)) {
		t.Fatalf("expected 10, got %s", v)
	}
}

func ptr[T any](v T) *T { return &v }
