package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Task types the daemon registers out of the box.
const (
	TaskDraftSection     = "draft_section"
	TaskComplianceReview = "compliance_review"
	TaskSubmissionStep   = "submission_step"
)

// DraftSection asks an agent to produce one section of a document.
type DraftSection struct {
	Section      string   `json:"section"`
	Instructions string   `json:"instructions,omitempty"`
	SourceRefs   []string `json:"source_refs,omitempty"`
	WordBudget   int      `json:"word_budget,omitempty"`
}

// ComplianceReview asks an agent to check drafted content against a rule set.
type ComplianceReview struct {
	Section  string   `json:"section"`
	RuleSet  string   `json:"rule_set"`
	Strict   bool     `json:"strict,omitempty"`
	Excludes []string `json:"excludes,omitempty"`
}

// SubmissionStep is one step of the final submission pipeline.
type SubmissionStep struct {
	Step     string `json:"step"`
	Target   string `json:"target,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// RegisterBuiltins installs decoders for the task types the daemon ships with.
func RegisterBuiltins(r *Registry) {
	r.Register(TaskDraftSection, decodeDraftSection)
	r.Register(TaskComplianceReview, decodeComplianceReview)
	r.Register(TaskSubmissionStep, decodeSubmissionStep)
}

func decodeDraftSection(raw []byte) (any, error) {
	var p DraftSection
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Section) == "" {
		return nil, errors.New("section is required")
	}
	if p.WordBudget < 0 {
		return nil, fmt.Errorf("word_budget must not be negative, got %d", p.WordBudget)
	}
	return &p, nil
}

func decodeComplianceReview(raw []byte) (any, error) {
	var p ComplianceReview
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Section) == "" {
		return nil, errors.New("section is required")
	}
	if strings.TrimSpace(p.RuleSet) == "" {
		return nil, errors.New("rule_set is required")
	}
	return &p, nil
}

func decodeSubmissionStep(raw []byte) (any, error) {
	var p SubmissionStep
	if err := strictUnmarshal(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Step) == "" {
		return nil, errors.New("step is required")
	}
	return &p, nil
}

func strictUnmarshal(raw []byte, dst any) error {
	if len(raw) == 0 {
		return errors.New("payload is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
