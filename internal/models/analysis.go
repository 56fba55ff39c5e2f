package models

import (
	"strings"
	"time"
)

// RiskLevel is the overall or per-item risk classification.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel normalises s and reports whether it names a known level.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	}
	return "", false
}

// Weight maps a level onto 1..3 for averaging.
func (l RiskLevel) Weight() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

// RiskItem is a single risk identified in the contract, in model output order.
type RiskItem struct {
	Title          string    `json:"title" firestore:"title"`
	Description    string    `json:"description" firestore:"description"`
	Recommendation string    `json:"recommendation" firestore:"recommendation"`
	Severity       RiskLevel `json:"severity" firestore:"severity"`
	SourceClause   string    `json:"sourceClause,omitempty" firestore:"sourceClause,omitempty"`
}

// Analysis is the validated, fully typed risk assessment of a document.
// Sequence fields are never nil.
type Analysis struct {
	ID               string     `json:"id" firestore:"id"`
	DocumentID       string     `json:"documentId" firestore:"documentId"`
	OwnerID          string     `json:"ownerId" firestore:"ownerId"`
	RiskLevel        RiskLevel  `json:"riskLevel" firestore:"riskLevel"`
	RiskScore        int        `json:"riskScore" firestore:"riskScore"`
	Summary          string     `json:"summary" firestore:"summary"`
	RiskItems        []RiskItem `json:"riskItems" firestore:"riskItems"`
	KeyClauses       []string   `json:"keyClauses" firestore:"keyClauses"`
	Recommendations  []string   `json:"recommendations" firestore:"recommendations"`
	ProcessingTimeMs int64      `json:"processingTimeMs" firestore:"processingTimeMs"`
	CreatedAt        time.Time  `json:"createdAt" firestore:"createdAt"`
}

// Normalize replaces nil sequences with empty ones.
func (a *Analysis) Normalize() {
	if a.RiskItems == nil {
		a.RiskItems = []RiskItem{}
	}
	if a.KeyClauses == nil {
		a.KeyClauses = []string{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
}

// RawAnalysis is the untrusted output of an analysis adapter. Body holds the
// model text exactly as returned; it must pass through schema repair before use.
type RawAnalysis struct {
	Source string
	Body   string
}

// RepairNotice records a field that was replaced by its default during schema repair.
type RepairNotice struct {
	Field  string
	Reason string
}
