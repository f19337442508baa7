package nl2sql

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	descriptor Descriptor
	calls      int
	text       string
}

func (s *stubProvider) Generate(_ context.Context, req Request) (Result, error) {
	s.calls++
	return Result{RawText: s.text, ModelID: s.descriptor.ID}, nil
}

func (s *stubProvider) Describe() Descriptor { return s.descriptor }

func newStub(id string, available bool) *stubProvider {
	return &stubProvider{descriptor: Descriptor{ID: id, DisplayName: id, Available: available, CostTier: CostFree}, text: "SELECT 1"}
}

func TestRegistryLookup(t *testing.T) {
	local := newStub("gpt-oss", true)
	hosted := newStub("gemini", false)
	registry, err := NewRegistry("gpt-oss", local, hosted)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	got, err := registry.Lookup("")
	if err != nil || got != Provider(local) {
		t.Fatalf("Lookup(\"\") = %v, %v", got, err)
	}

	_, err = registry.Lookup("claude")
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != KindUnavailable || !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("Lookup(claude) error = %v", err)
	}

	_, err = registry.Lookup("gemini")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Lookup(gemini) error = %v", err)
	}
	if hosted.calls != 0 {
		t.Fatalf("unavailable provider called %d times", hosted.calls)
	}

	list := registry.List()
	if len(list) != 2 || list[0].ID != "gpt-oss" || list[1].ID != "gemini" || list[1].Available {
		t.Fatalf("List() = %+v", list)
	}
	if registry.Default() != "gpt-oss" {
		t.Fatalf("Default() = %q", registry.Default())
	}
}

func TestNewRegistryRejectsBadProviders(t *testing.T) {
	if _, err := NewRegistry("", newStub("a", true), newStub("a", true)); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if _, err := NewRegistry("", newStub(" ", true)); err == nil {
		t.Fatal("expected empty id error")
	}
	if _, err := NewRegistry("missing", newStub("a", true)); err == nil {
		t.Fatal("expected unregistered default error")
	}
}

func TestWithRateLimitRefusesWithoutCallingBackend(t *testing.T) {
	backend := newStub("openai", true)
	limited := WithRateLimit(backend, PerMinute(1))

	if _, err := limited.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	_, err := limited.Generate(context.Background(), Request{})
	var genErr *GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != KindQuota || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Generate() error = %v, want quota", err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
	if limited.Describe().ID != "openai" {
		t.Fatalf("Describe() = %+v", limited.Describe())
	}
}
