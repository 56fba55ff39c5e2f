package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Lllllllleong/contractflow/internal/apperr"
	"github.com/Lllllllleong/contractflow/internal/metrics"
	"github.com/Lllllllleong/contractflow/internal/models"
	"github.com/Lllllllleong/contractflow/internal/prompts"
	"github.com/Lllllllleong/contractflow/internal/registry"
)

// MaxContractDetailsChars bounds the party, term and clause text of one
// generation request.
const MaxContractDetailsChars = 20000

// knownTerms are rendered first, in this order and under these labels.
// Any other term follows in key order under its own key.
var knownTerms = []struct{ key, label string }{
	{"startDate", "Start date"},
	{"endDate", "End date"},
	{"position", "Position"},
	{"workplace", "Place of work"},
	{"workingHours", "Working hours"},
	{"salaryType", "Pay type"},
	{"salaryAmount", "Pay amount"},
	{"paymentDate", "Payment date"},
}

// Generator drafts contracts from structured details and records them.
type Generator struct {
	registry registry.Registry
	drafter  Drafter
	metrics  *metrics.Metrics
	limits   Limits
	now      func() time.Time
}

// NewGenerator wires a contract generator. drafter and m may be nil; without
// a drafter every Generate call fails its precondition.
func NewGenerator(reg registry.Registry, drafter Drafter, m *metrics.Metrics, limits Limits) *Generator {
	return &Generator{
		registry: reg,
		drafter:  drafter,
		metrics:  m,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// contractDetails is a validated generation request.
type contractDetails struct {
	contractType models.ContractType
	partyA       models.Party
	partyB       models.Party
	terms        map[string]string
	clauses      []string
}

// Generate validates req, asks the drafter for the contract and records it.
// A failed save is logged and the drafted contract is still returned, without
// an ID.
func (g *Generator) Generate(ctx context.Context, ownerID string, req models.GenerateContractRequest) (*models.GeneratedContract, error) {
	const op = "GenerateContract"
	if ownerID == "" {
		return nil, apperr.Validation(op, "An owner is required.")
	}
	d, err := validateContractRequest(req)
	if err != nil {
		return nil, err
	}
	if g.drafter == nil {
		return nil, apperr.Precondition(op, "Contract generation is not configured.")
	}
	logCtx := slog.With("ownerId", ownerID, "contractType", d.contractType)

	now := g.now()
	userPrompt := renderContractRequest(d, now)
	start := time.Now()
	content, err := callAdapter(ctx, g.metrics, "drafter", g.limits.GenerationTimeout, func(ctx context.Context) (string, error) {
		return g.drafter.Draft(ctx, prompts.GenerationSystem[string(d.contractType)], userPrompt)
	})
	if err != nil {
		logCtx.Error("Contract drafting failed.", "error", err)
		return nil, apperr.Generation(op, "Failed to generate the contract. Please try again.", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		logCtx.Error("Drafting model returned an empty contract.")
		return nil, apperr.Generation(op, "Failed to generate the contract. Please try again.", nil)
	}

	c := &models.GeneratedContract{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		ContractType:      d.contractType,
		Title:             d.contractType.Title() + " - " + d.partyA.Name,
		PartyA:            d.partyA,
		PartyB:            d.partyB,
		Terms:             d.terms,
		AdditionalClauses: d.clauses,
		Content:           content,
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
		CreatedAt:         now,
	}
	if err := g.registry.CreateContract(ctx, c); err != nil {
		logCtx.Error("Failed to save the generated contract.", "error", err)
		c.ID = ""
		return c, nil
	}
	logCtx.Info("Contract generated.", "contractId", c.ID, "processingTimeMs", c.ProcessingTimeMs, "contentChars", utf8.RuneCountInString(content))
	return c, nil
}

// List returns one page of an owner's generated contracts, newest first.
// An empty contractType lists every type.
func (g *Generator) List(ctx context.Context, ownerID string, page, pageSize int, contractType string) (*models.ContractPage, error) {
	const op = "ListContracts"
	if ownerID == "" {
		return nil, apperr.Validation(op, "An owner is required.")
	}
	var filter *models.ContractType
	if contractType != "" {
		ct, ok := models.ParseContractType(contractType)
		if !ok {
			return nil, apperr.Validation(op, "Unknown contract type filter.")
		}
		filter = &ct
	}
	page, pageSize = pageBounds(page, pageSize)

	items, total, err := g.registry.ListContracts(ctx, ownerID, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperr.Internal(op, "Failed to list contracts.", err)
	}
	if items == nil {
		items = []models.GeneratedContract{}
	}
	return &models.ContractPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

func validateContractRequest(req models.GenerateContractRequest) (*contractDetails, error) {
	const op = "GenerateContract"
	ct, ok := models.ParseContractType(req.ContractType)
	if !ok {
		return nil, apperr.Validation(op, "Please choose a valid contract type.")
	}
	d := &contractDetails{
		contractType: ct,
		partyA:       trimParty(req.PartyA),
		partyB:       trimParty(req.PartyB),
		terms:        make(map[string]string, len(req.Terms)),
		clauses:      []string{},
	}
	if d.partyA.Name == "" || d.partyB.Name == "" {
		return nil, apperr.Validation(op, "The names of both parties are required.")
	}

	size := partyChars(d.partyA) + partyChars(d.partyB)
	for key, raw := range req.Terms {
		key = strings.TrimSpace(key)
		value, ok := termValue(raw)
		if !ok {
			return nil, apperr.Validation(op, fmt.Sprintf("Term %q must be text, a number or a boolean.", key))
		}
		if key == "" || value == "" {
			continue
		}
		d.terms[key] = value
		size += utf8.RuneCountInString(key) + utf8.RuneCountInString(value)
	}
	for _, clause := range req.AdditionalClauses {
		if clause = strings.TrimSpace(clause); clause != "" {
			d.clauses = append(d.clauses, clause)
			size += utf8.RuneCountInString(clause)
		}
	}
	if size > MaxContractDetailsChars {
		return nil, apperr.Validation(op, fmt.Sprintf("Contract details must not exceed %d characters.", MaxContractDetailsChars))
	}
	return d, nil
}

// termValue renders a JSON scalar as text. Nil renders as empty.
func termValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func trimParty(p models.Party) models.Party {
	return models.Party{
		Name:           strings.TrimSpace(p.Name),
		Representative: strings.TrimSpace(p.Representative),
		BusinessNumber: strings.TrimSpace(p.BusinessNumber),
		BirthDate:      strings.TrimSpace(p.BirthDate),
		Address:        strings.TrimSpace(p.Address),
		Contact:        strings.TrimSpace(p.Contact),
	}
}

func partyChars(p models.Party) int {
	n := 0
	for _, s := range partyLines(p) {
		n += utf8.RuneCountInString(s[1])
	}
	return n
}

// partyLines lists the non-empty fields of a party with their labels.
func partyLines(p models.Party) [][2]string {
	var lines [][2]string
	for _, f := range [][2]string{
		{"Name", p.Name},
		{"Representative", p.Representative},
		{"Business registration number", p.BusinessNumber},
		{"Date of birth", p.BirthDate},
		{"Address", p.Address},
		{"Contact", p.Contact},
	} {
		if f[1] != "" {
			lines = append(lines, f)
		}
	}
	return lines
}

// renderContractRequest builds the user prompt: parties, terms, additional
// clauses and the closing instruction, in that order.
func renderContractRequest(d *contractDetails, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s from the following details.\n", d.contractType.Title())

	for _, party := range []struct {
		heading string
		p       models.Party
	}{{"Party A", d.partyA}, {"Party B", d.partyB}} {
		fmt.Fprintf(&b, "\n## %s\n", party.heading)
		for _, line := range partyLines(party.p) {
			fmt.Fprintf(&b, "- %s: %s\n", line[0], line[1])
		}
	}

	if len(d.terms) > 0 {
		b.WriteString("\n## Terms\n")
		seen := make(map[string]bool, len(knownTerms))
		for _, kt := range knownTerms {
			seen[kt.key] = true
			if v, ok := d.terms[kt.key]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", kt.label, v)
			}
		}
		var others []string
		for key := range d.terms {
			if !seen[key] {
				others = append(others, key)
			}
		}
		sort.Strings(others)
		for _, key := range others {
			fmt.Fprintf(&b, "- %s: %s\n", key, d.terms[key])
		}
	}

	if len(d.clauses) > 0 {
		b.WriteString("\n## Additional clauses\n")
		for i, clause := range d.clauses {
			fmt.Fprintf(&b, "%d. %s\n", i+1, clause)
		}
	}

	fmt.Fprintf(&b, "\n%s\nContract date: %s\n", prompts.GenerationClosing, now.Format("January 2, 2006"))
	return b.String()
}
