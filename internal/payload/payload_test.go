package payload_test

import (
	"errors"
	"testing"

	"dispatch/internal/payload"
	"dispatch/internal/services"
)

func newRegistry() *payload.Registry {
	r := payload.NewRegistry()
	payload.RegisterBuiltins(r)
	return r
}

func TestResolveUnknownTaskType(t *testing.T) {
	r := newRegistry()
	_, err := r.Resolve("summon_demons", `{}`)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("unknown task type must not be retryable")
	}
}

func TestResolveDraftSection(t *testing.T) {
	r := newRegistry()
	decoded, err := r.Resolve(payload.TaskDraftSection, `{"section":"executive_summary","word_budget":500}`)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	draft, ok := decoded.(*payload.DraftSection)
	if !ok {
		t.Fatalf("unexpected decoded type %T", decoded)
	}
	if draft.Section != "executive_summary" || draft.WordBudget != 500 {
		t.Fatalf("unexpected payload: %#v", draft)
	}
}

func TestResolveRejectsMalformedPayloads(t *testing.T) {
	r := newRegistry()
	cases := map[string]struct {
		taskType string
		raw      string
	}{
		"empty":             {payload.TaskDraftSection, ""},
		"not json":          {payload.TaskDraftSection, "plainly not json"},
		"missing section":   {payload.TaskDraftSection, `{"word_budget":10}`},
		"negative budget":   {payload.TaskDraftSection, `{"section":"a","word_budget":-1}`},
		"unknown field":     {payload.TaskDraftSection, `{"section":"a","surprise":true}`},
		"missing rule set":  {payload.TaskComplianceReview, `{"section":"a"}`},
		"missing step name": {payload.TaskSubmissionStep, `{"target":"portal"}`},
	}
	for name, tc := range cases {
		if _, err := r.Resolve(tc.taskType, tc.raw); !errors.Is(err, services.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestTaskTypesSorted(t *testing.T) {
	r := newRegistry()
	types := r.TaskTypes()
	want := []string{payload.TaskComplianceReview, payload.TaskDraftSection, payload.TaskSubmissionStep}
	if len(types) != len(want) {
		t.Fatalf("expected %d task types, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}
