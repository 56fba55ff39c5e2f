package models

import (
	"strings"
	"time"
)

// ContractType is the kind of contract the generator drafts.
type ContractType string

const (
	ContractEmployment ContractType = "employment"
	ContractService    ContractType = "service"
	ContractNDA        ContractType = "nda"
	ContractLease      ContractType = "lease"
	ContractFreelance  ContractType = "freelance"
	ContractInvestment ContractType = "investment"
)

var contractTitles = map[ContractType]string{
	ContractEmployment: "Employment Contract",
	ContractService:    "Service Agreement",
	ContractNDA:        "Non-Disclosure Agreement",
	ContractLease:      "Lease Agreement",
	ContractFreelance:  "Freelance Contract",
	ContractInvestment: "Investment Agreement",
}

// ParseContractType normalises s and reports whether it names a known type.
func ParseContractType(s string) (ContractType, bool) {
	t := ContractType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := contractTitles[t]
	return t, ok
}

// Title is the human-readable name of the contract type.
func (t ContractType) Title() string {
	return contractTitles[t]
}

// Party is one side of a generated contract. Only Name is required.
type Party struct {
	Name           string `json:"name" firestore:"name"`
	Representative string `json:"representative,omitempty" firestore:"representative,omitempty"`
	BusinessNumber string `json:"businessNumber,omitempty" firestore:"businessNumber,omitempty"`
	BirthDate      string `json:"birthDate,omitempty" firestore:"birthDate,omitempty"`
	Address        string `json:"address,omitempty" firestore:"address,omitempty"`
	Contact        string `json:"contact,omitempty" firestore:"contact,omitempty"`
}

// GeneratedContract is a drafted contract together with the inputs it was
// drafted from.
type GeneratedContract struct {
	ID                string            `json:"id" firestore:"id"`
	OwnerID           string            `json:"ownerId" firestore:"ownerId"`
	ContractType      ContractType      `json:"type" firestore:"contractType"`
	Title             string            `json:"title" firestore:"title"`
	PartyA            Party             `json:"partyA" firestore:"partyA"`
	PartyB            Party             `json:"partyB" firestore:"partyB"`
	Terms             map[string]string `json:"terms" firestore:"terms"`
	AdditionalClauses []string          `json:"additionalClauses" firestore:"additionalClauses"`
	Content           string            `json:"content" firestore:"content"`
	ProcessingTimeMs  int64             `json:"processingTimeMs" firestore:"processingTimeMs"`
	CreatedAt         time.Time         `json:"generatedAt" firestore:"createdAt"`
}

// Normalize replaces nil collections with empty ones.
func (c *GeneratedContract) Normalize() {
	if c.Terms == nil {
		c.Terms = map[string]string{}
	}
	if c.AdditionalClauses == nil {
		c.AdditionalClauses = []string{}
	}
}

// ContractPage is one page of an owner's generated contracts, newest first.
type ContractPage struct {
	Items      []GeneratedContract `json:"data"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalPages int                 `json:"totalPages"`
}
