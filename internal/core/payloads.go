package core

import (
	"fmt"
	"strconv"
	"strings"
)

// SourceRef points at a span of evidence backing a claim.
type SourceRef struct {
	File      string `json:"file"`
	LineRange [2]int `json:"line_range"`
	Quote     string `json:"quote"`
}

// Claim is one evidence-backed assertion in the synthesis output.
type Claim struct {
	ClaimID           string      `json:"claim_id"`
	ClaimText         string      `json:"claim_text"`
	SupportingSources []SourceRef `json:"supporting_sources"`
	Confidence        float64     `json:"confidence"`
}

// Feature is one candidate feature derived from the claims.
type Feature struct {
	Feature        string   `json:"feature"`
	Rationale      string   `json:"rationale"`
	LinkedClaimIDs []string `json:"linked_claim_ids"`
	Confidence     float64  `json:"confidence"`
}

// FeatureChoice records the selected feature inside the evidence map.
type FeatureChoice struct {
	Feature        string   `json:"feature"`
	Rationale      string   `json:"rationale"`
	LinkedClaimIDs []string `json:"linked_claim_ids"`
}

// EvidenceMap is the structured synthesis output.
type EvidenceMap struct {
	Summary       string         `json:"summary"`
	Claims        []Claim        `json:"claims"`
	TopFeatures   []Feature      `json:"top_features"`
	FeatureChoice *FeatureChoice `json:"feature_choice"`
}

// MaxTopFeatures bounds the candidate feature list.
const MaxTopFeatures = 3

// Validate enforces the evidence-map schema at the ingestion boundary.
// Generated payloads are never trusted before passing here.
func (m *EvidenceMap) Validate() error {
	if m.Summary == "" {
		return ErrValidation(CodeSchemaInvalid, "evidence map summary is required")
	}
	if len(m.TopFeatures) == 0 {
		return ErrValidation(CodeSchemaInvalid, "evidence map must contain at least one candidate feature")
	}
	if len(m.TopFeatures) > MaxTopFeatures {
		return ErrValidation(CodeSchemaInvalid,
			fmt.Sprintf("evidence map lists %d features, maximum is %d", len(m.TopFeatures), MaxTopFeatures))
	}
	for i, c := range m.Claims {
		if c.ClaimID == "" {
			return ErrValidation(CodeSchemaInvalid, fmt.Sprintf("claims[%d].claim_id is required", i))
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return ErrValidation(CodeSchemaInvalid,
				fmt.Sprintf("claims[%d].confidence %.2f outside [0, 1]", i, c.Confidence))
		}
	}
	for i, f := range m.TopFeatures {
		if f.Feature == "" {
			return ErrValidation(CodeSchemaInvalid, fmt.Sprintf("top_features[%d].feature is required", i))
		}
	}
	return nil
}

// NormalizeEvidenceMap coerces a loosely-typed generated payload into a
// valid EvidenceMap, filling defaults for tolerable gaps.
func NormalizeEvidenceMap(payload map[string]interface{}) *EvidenceMap {
	m := &EvidenceMap{
		Summary: stringOr(payload["summary"], "Evidence synthesis summary"),
	}

	claims, _ := payload["claims"].([]interface{})
	for i, raw := range claims {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		claim := Claim{
			ClaimID:    stringOr(firstOf(obj, "claim_id", "id"), fmt.Sprintf("C%d", i+1)),
			ClaimText:  stringOr(firstOf(obj, "claim_text", "claim"), ""),
			Confidence: floatOr(obj["confidence"], 0.5),
		}
		sources, _ := obj["supporting_sources"].([]interface{})
		for _, s := range sources {
			src, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			ref := SourceRef{
				File:      stringOr(src["file"], ""),
				LineRange: [2]int{1, 1},
				Quote:     stringOr(src["quote"], ""),
			}
			if lr, ok := src["line_range"].([]interface{}); ok && len(lr) >= 2 {
				ref.LineRange = [2]int{intOr(lr[0], 1), intOr(lr[1], 1)}
			}
			claim.SupportingSources = append(claim.SupportingSources, ref)
		}
		m.Claims = append(m.Claims, claim)
	}

	var claimIDs []string
	for _, c := range m.Claims {
		claimIDs = append(claimIDs, c.ClaimID)
	}

	features, _ := payload["top_features"].([]interface{})
	for i, raw := range features {
		if len(m.TopFeatures) >= MaxTopFeatures {
			break
		}
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		feature := Feature{
			Feature:    stringOr(obj["feature"], fmt.Sprintf("Candidate feature %d", i+1)),
			Rationale:  stringOr(obj["rationale"], "Evidence-backed opportunity"),
			Confidence: floatOr(obj["confidence"], 0.5),
		}
		if linked, ok := obj["linked_claim_ids"].([]interface{}); ok && len(linked) > 0 {
			for _, id := range linked {
				feature.LinkedClaimIDs = append(feature.LinkedClaimIDs, stringOr(id, ""))
			}
		} else if len(claimIDs) > 0 {
			n := 2
			if len(claimIDs) < n {
				n = len(claimIDs)
			}
			feature.LinkedClaimIDs = claimIDs[:n]
		}
		m.TopFeatures = append(m.TopFeatures, feature)
	}

	return m
}

// ApplyFeatureChoice records the selected feature in the evidence map.
func (m *EvidenceMap) ApplyFeatureChoice(selected Feature) {
	m.FeatureChoice = &FeatureChoice{
		Feature:        selected.Feature,
		Rationale:      selected.Rationale,
		LinkedClaimIDs: selected.LinkedClaimIDs,
	}
}

// RiskLevel enumerates ticket risk ratings.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskMed  RiskLevel = "med"
	RiskHigh RiskLevel = "high"
)

// Ticket is one implementation task generated for the selected feature.
type Ticket struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	FilesExpected      []string  `json:"files_expected"`
	RiskLevel          RiskLevel `json:"risk_level"`
	EstimateHours      int       `json:"estimate_hours"`
	Owner              string    `json:"owner,omitempty"`
}

// TicketSet is the structured ticket-generation output.
type TicketSet struct {
	EpicTitle string   `json:"epic_title"`
	Tickets   []Ticket `json:"tickets"`
}

// Validate enforces the ticket schema at the ingestion boundary.
func (ts *TicketSet) Validate() error {
	if ts.EpicTitle == "" {
		return ErrValidation(CodeSchemaInvalid, "epic_title is required")
	}
	if len(ts.Tickets) == 0 {
		return ErrValidation(CodeSchemaInvalid, "tickets array cannot be empty")
	}
	for i, t := range ts.Tickets {
		if t.ID == "" {
			return ErrValidation(CodeSchemaInvalid, fmt.Sprintf("tickets[%d].id is required", i))
		}
		if t.Title == "" {
			return ErrValidation(CodeSchemaInvalid, fmt.Sprintf("tickets[%d].title is required", i))
		}
		if len(t.AcceptanceCriteria) == 0 {
			return ErrValidation(CodeSchemaInvalid,
				fmt.Sprintf("tickets[%d].acceptance_criteria cannot be empty", i))
		}
		switch t.RiskLevel {
		case RiskLow, RiskMed, RiskHigh:
		default:
			return ErrValidation(CodeSchemaInvalid,
				fmt.Sprintf("tickets[%d].risk_level must be low, med, or high", i))
		}
		if t.EstimateHours < 0 {
			return ErrValidation(CodeSchemaInvalid,
				fmt.Sprintf("tickets[%d].estimate_hours cannot be negative", i))
		}
	}
	return nil
}

// FilesExpected collects the union of expected file paths across tickets.
func (ts *TicketSet) FilesExpected() []string {
	seen := make(map[string]bool)
	var files []string
	for _, t := range ts.Tickets {
		for _, f := range t.FilesExpected {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}

// TotalEstimateHours sums ticket estimates.
func (ts *TicketSet) TotalEstimateHours() int {
	total := 0
	for _, t := range ts.Tickets {
		total += t.EstimateHours
	}
	return total
}

// NormalizeTicketSet coerces a loosely-typed generated payload into a
// TicketSet, filling defaults for tolerable gaps.
func NormalizeTicketSet(payload map[string]interface{}) *TicketSet {
	ts := &TicketSet{
		EpicTitle: stringOr(payload["epic_title"], "Feature Implementation"),
	}
	tickets, _ := payload["tickets"].([]interface{})
	for i, raw := range tickets {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		ticket := Ticket{
			ID:            stringOr(obj["id"], fmt.Sprintf("T%d", i+1)),
			Title:         stringOr(obj["title"], "Implementation task"),
			Description:   stringOr(obj["description"], ""),
			RiskLevel:     RiskLevel(stringOr(obj["risk_level"], string(RiskLow))),
			EstimateHours: intOr(obj["estimate_hours"], 1),
			Owner:         stringOr(obj["owner"], ""),
		}
		if ticket.EstimateHours <= 0 {
			ticket.EstimateHours = 1
		}
		switch ticket.RiskLevel {
		case RiskLow, RiskMed, RiskHigh:
		default:
			ticket.RiskLevel = RiskLow
		}
		ticket.AcceptanceCriteria = stringsOr(obj["acceptance_criteria"], []string{"Verification must pass"})
		// A ticket without expected files still needs a repo-context
		// anchor for implementation.
		ticket.FilesExpected = stringsOr(obj["files_expected"], []string{"src/demo_app/app.py"})
		ts.Tickets = append(ts.Tickets, ticket)
	}
	return ts
}

func firstOf(obj map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}

func stringsOr(v interface{}, fallback []string) []string {
	items, ok := v.([]interface{})
	if !ok || len(items) == 0 {
		return fallback
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func floatOr(v interface{}, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return fallback
}

func intOr(v interface{}, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return fallback
}
