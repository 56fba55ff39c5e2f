package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/contractflow/internal/models"
)

const (
	analysesCollection  = "analyses"
	turnsCollection     = "turns"
	contractsCollection = "generatedContracts"
)

// firestoreDocument is the stored shape of a document: the model plus the
// bookkeeping fields the registry needs for sequencing and filtering.
type firestoreDocument struct {
	models.Document
	TurnSeq           int64  `firestore:"turnSeq"`
	AnalysisRiskLevel string `firestore:"analysisRiskLevel,omitempty"`
}

// FirestoreRegistry implements Registry on Cloud Firestore. Conditional
// updates run inside transactions, which Firestore retries on contention.
type FirestoreRegistry struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreRegistry wraps an existing client. Documents live in collection;
// analyses and turns are subcollections of each document. Generated contracts
// live in their own top-level collection.
func NewFirestoreRegistry(client *firestore.Client, collection string) *FirestoreRegistry {
	return &FirestoreRegistry{
		client:     client,
		collection: collection,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *FirestoreRegistry) Close() error { return r.client.Close() }

func (r *FirestoreRegistry) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *FirestoreRegistry) CreateDocument(ctx context.Context, doc *models.Document) error {
	if _, err := r.doc(doc.ID).Create(ctx, firestoreDocument{Document: *doc}); err != nil {
		return fmt.Errorf("registry: create document: %w", err)
	}
	return nil
}

func (r *FirestoreRegistry) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := r.doc(id).Get(ctx)
	if err != nil {
		return nil, notFoundOr(err, "get document")
	}
	return decodeDocument(snap)
}

func (r *FirestoreRegistry) SetStorageRef(ctx context.Context, id, ref string) error {
	_, err := r.doc(id).Update(ctx, []firestore.Update{
		{Path: "storageRef", Value: ref},
		{Path: "updatedAt", Value: r.now()},
	})
	if err != nil {
		return notFoundOr(err, "set storage ref")
	}
	return nil
}

// transition runs a compare-and-transition in a transaction. extra updates
// are written together with the status.
func (r *FirestoreRegistry) transition(ctx context.Context, id string, from []models.Status, to models.Status, extra []firestore.Update, after func(tx *firestore.Transaction) error) error {
	ref := r.doc(id)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFoundOr(err, "read document")
		}
		current, err := snap.DataAt("status")
		if err != nil {
			return fmt.Errorf("registry: read status: %w", err)
		}
		if !statusIn(models.Status(fmt.Sprint(current)), from) {
			return ErrStatusConflict
		}
		updates := append([]firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: r.now()},
		}, extra...)
		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		if after != nil {
			return after(tx)
		}
		return nil
	})
}

func (r *FirestoreRegistry) Transition(ctx context.Context, id string, from []models.Status, to models.Status, opts TransitionOpts) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	return r.transition(ctx, id, from, to, []firestore.Update{{Path: "errorDetails", Value: opts.ErrorDetails}}, nil)
}

func (r *FirestoreRegistry) CacheExtractedText(ctx context.Context, id, text string) error {
	return r.transition(ctx, id, []models.Status{models.StatusParsing}, models.StatusAnalyzing, []firestore.Update{
		{Path: "extractedText", Value: text},
		{Path: "errorDetails", Value: ""},
	}, nil)
}

func (r *FirestoreRegistry) CompleteAnalysis(ctx context.Context, a *models.Analysis) error {
	a.Normalize()
	analysisRef := r.doc(a.DocumentID).Collection(analysesCollection).Doc(a.ID)
	return r.transition(ctx, a.DocumentID, []models.Status{models.StatusAnalyzing}, models.StatusCompleted, []firestore.Update{
		{Path: "errorDetails", Value: ""},
		{Path: "analysisRiskLevel", Value: string(a.RiskLevel)},
	}, func(tx *firestore.Transaction) error {
		return tx.Create(analysisRef, a)
	})
}

func (r *FirestoreRegistry) GetAnalysis(ctx context.Context, documentID string) (*models.Analysis, error) {
	snaps, err := r.doc(documentID).Collection(analysesCollection).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("registry: get analysis: %w", err)
	}
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	var a models.Analysis
	if err := snaps[0].DataTo(&a); err != nil {
		return nil, fmt.Errorf("registry: decode analysis: %w", err)
	}
	a.Normalize()
	return &a, nil
}

func (r *FirestoreRegistry) AppendTurn(ctx context.Context, turn *models.ChatTurn) error {
	ref := r.doc(turn.DocumentID)
	turnRef := ref.Collection(turnsCollection).Doc(turn.ID)
	var seq int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return notFoundOr(err, "read document")
		}
		var stored firestoreDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("registry: decode document: %w", err)
		}
		seq = stored.TurnSeq + 1
		if err := tx.Update(ref, []firestore.Update{{Path: "turnSeq", Value: seq}}); err != nil {
			return err
		}
		t := *turn
		t.Seq = seq
		return tx.Create(turnRef, t)
	})
	if err != nil {
		return err
	}
	turn.Seq = seq
	return nil
}

func (r *FirestoreRegistry) RecentTurns(ctx context.Context, documentID string, limit int) ([]models.ChatTurn, error) {
	q := r.doc(documentID).Collection(turnsCollection).OrderBy("seq", firestore.Desc).Limit(limit)
	turns, err := collectTurns(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *FirestoreRegistry) ListTurns(ctx context.Context, documentID string) ([]models.ChatTurn, error) {
	return collectTurns(ctx, r.doc(documentID).Collection(turnsCollection).OrderBy("seq", firestore.Asc))
}

func (r *FirestoreRegistry) ListDocuments(ctx context.Context, ownerID string, filter models.ListFilter, limit, offset int) ([]models.DocumentView, int, error) {
	q := r.client.Collection(r.collection).Where("ownerId", "==", ownerID)
	if filter.Status != nil {
		q = q.Where("status", "==", string(*filter.Status))
	}
	if filter.RiskLevel != nil {
		q = q.Where("analysisRiskLevel", "==", string(*filter.RiskLevel))
	}

	countRes, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: count documents: %w", err)
	}
	total := 0
	if v, ok := countRes["total"].(*firestorepb.Value); ok {
		total = int(v.GetIntegerValue())
	}

	snaps, err := q.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list documents: %w", err)
	}

	views := make([]models.DocumentView, len(snaps))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(10)
	for i, snap := range snaps {
		doc, err := decodeDocument(snap)
		if err != nil {
			return nil, 0, err
		}
		doc.ExtractedText = nil
		views[i].Document = *doc
		if doc.Status != models.StatusCompleted {
			continue
		}
		eg.Go(func() error {
			a, err := r.GetAnalysis(gctx, doc.ID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			views[i].Analysis = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (r *FirestoreRegistry) DeleteDocument(ctx context.Context, id string) error {
	ref := r.doc(id)
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return notFoundOr(err, "read document")
		}
		for _, sub := range []string{analysesCollection, turnsCollection} {
			children, err := tx.Documents(ref.Collection(sub)).GetAll()
			if err != nil {
				return fmt.Errorf("registry: list %s: %w", sub, err)
			}
			for _, child := range children {
				if err := tx.Delete(child.Ref); err != nil {
					return err
				}
			}
		}
		return tx.Delete(ref)
	})
}

func (r *FirestoreRegistry) Statistics(ctx context.Context, ownerID string, since time.Time) (*models.Statistics, error) {
	stats := &models.Statistics{}
	var completed []string

	it := r.client.Collection(r.collection).Where("ownerId", "==", ownerID).Select("status").Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("registry: scan documents: %w", err)
		}
		stats.TotalDocuments++
		if s, _ := snap.DataAt("status"); s == string(models.StatusCompleted) {
			stats.CompletedDocuments++
			completed = append(completed, snap.Ref.ID)
		}
	}

	var weightSum, processingSum int64
	for _, id := range completed {
		a, err := r.GetAnalysis(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stats.TotalAnalyses++
		if !a.CreatedAt.Before(since) {
			stats.MonthlyAnalyses++
		}
		weightSum += int64(a.RiskLevel.Weight())
		processingSum += a.ProcessingTimeMs
	}

	stats.CompletionRate = completionRate(stats.CompletedDocuments, stats.TotalDocuments)
	if stats.TotalAnalyses > 0 {
		stats.AverageRiskLevel = averageRiskLevel(float64(weightSum) / float64(stats.TotalAnalyses))
		stats.AverageProcessingMs = processingSum / int64(stats.TotalAnalyses)
	}
	return stats, nil
}

func (r *FirestoreRegistry) CreateContract(ctx context.Context, c *models.GeneratedContract) error {
	c.Normalize()
	if _, err := r.client.Collection(contractsCollection).Doc(c.ID).Create(ctx, c); err != nil {
		return fmt.Errorf("registry: create contract: %w", err)
	}
	return nil
}

func (r *FirestoreRegistry) ListContracts(ctx context.Context, ownerID string, contractType *models.ContractType, limit, offset int) ([]models.GeneratedContract, int, error) {
	q := r.client.Collection(contractsCollection).Where("ownerId", "==", ownerID)
	if contractType != nil {
		q = q.Where("contractType", "==", string(*contractType))
	}

	countRes, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: count contracts: %w", err)
	}
	total := 0
	if v, ok := countRes["total"].(*firestorepb.Value); ok {
		total = int(v.GetIntegerValue())
	}

	snaps, err := q.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list contracts: %w", err)
	}
	contracts := make([]models.GeneratedContract, 0, len(snaps))
	for _, snap := range snaps {
		var c models.GeneratedContract
		if err := snap.DataTo(&c); err != nil {
			return nil, 0, fmt.Errorf("registry: decode contract %s: %w", snap.Ref.ID, err)
		}
		c.ID = snap.Ref.ID
		c.Normalize()
		contracts = append(contracts, c)
	}
	return contracts, total, nil
}

func decodeDocument(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var stored firestoreDocument
	if err := snap.DataTo(&stored); err != nil {
		return nil, fmt.Errorf("registry: decode document %s: %w", snap.Ref.ID, err)
	}
	doc := stored.Document
	doc.ID = snap.Ref.ID
	return &doc, nil
}

func collectTurns(ctx context.Context, q firestore.Query) ([]models.ChatTurn, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("registry: list turns: %w", err)
	}
	turns := make([]models.ChatTurn, 0, len(snaps))
	for _, snap := range snaps {
		var t models.ChatTurn
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("registry: decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func statusIn(s models.Status, set []models.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func notFoundOr(err error, op string) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusConflict) {
		return err
	}
	return fmt.Errorf("registry: %s: %w", op, err)
}
