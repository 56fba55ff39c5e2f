package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// dialect adapts the shared queries to a SQL driver.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool
}

var (
	dialectPostgres = dialect{name: "postgres", numbered: true}
	dialectSQLite   = dialect{name: "sqlite"}
)

// rebind rewrites ? placeholders for the dialect. Queries never contain a
// literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLRegistry implements Registry on database/sql. It serves both the
// PostgreSQL and the SQLite backends.
type SQLRegistry struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLRegistry(db *sql.DB, d dialect) *SQLRegistry {
	return &SQLRegistry{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying handle for readiness checks.
func (r *SQLRegistry) DB() *sql.DB { return r.db }

func (r *SQLRegistry) Close() error { return r.db.Close() }

func (r *SQLRegistry) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r *SQLRegistry) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.dialect.rebind(query), args...)
}

func (r *SQLRegistry) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.dialect.rebind(query), args...)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runInTx runs fn inside a transaction, committing on success.
func (r *SQLRegistry) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: commit: %w", err)
	}
	return nil
}

const documentColumns = `id, owner_id, file_name, file_type, mime_type, file_size_bytes, file_hash,
	page_count, storage_ref, extracted_text, status, error_details, created_at, updated_at`

func (r *SQLRegistry) CreateDocument(ctx context.Context, doc *models.Document) error {
	_, err := r.exec(ctx, r.db, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OwnerID, doc.FileName, doc.FileType, doc.MIMEType, doc.FileSizeBytes, doc.FileHash,
		doc.PageCount, nullString(doc.StorageRef), nullString(doc.ExtractedText), string(doc.Status),
		doc.ErrorDetails, doc.CreatedAt.UTC(), doc.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("registry: create document: %w", err)
	}
	return nil
}

func (r *SQLRegistry) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := r.queryRow(ctx, r.db, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get document: %w", err)
	}
	return doc, nil
}

func (r *SQLRegistry) SetStorageRef(ctx context.Context, id, ref string) error {
	res, err := r.exec(ctx, r.db,
		`UPDATE documents SET storage_ref = ?, updated_at = ? WHERE id = ?`, ref, r.now(), id)
	if err != nil {
		return fmt.Errorf("registry: set storage ref: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

func (r *SQLRegistry) Transition(ctx context.Context, id string, from []models.Status, to models.Status, opts TransitionOpts) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), opts.ErrorDetails, r.now(), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := r.exec(ctx, r.db, `
		UPDATE documents SET status = ?, error_details = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("registry: transition to %s: %w", to, err)
	}
	return r.conflictOrMissing(ctx, r.db, res, id)
}

func (r *SQLRegistry) CacheExtractedText(ctx context.Context, id, text string) error {
	res, err := r.exec(ctx, r.db, `
		UPDATE documents SET extracted_text = ?, status = ?, error_details = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		text, string(models.StatusAnalyzing), r.now(), id, string(models.StatusParsing))
	if err != nil {
		return fmt.Errorf("registry: cache extracted text: %w", err)
	}
	return r.conflictOrMissing(ctx, r.db, res, id)
}

func (r *SQLRegistry) CompleteAnalysis(ctx context.Context, a *models.Analysis) error {
	a.Normalize()
	riskItems, err := json.Marshal(a.RiskItems)
	if err != nil {
		return fmt.Errorf("registry: encode risk items: %w", err)
	}
	keyClauses, err := json.Marshal(a.KeyClauses)
	if err != nil {
		return fmt.Errorf("registry: encode key clauses: %w", err)
	}
	recommendations, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("registry: encode recommendations: %w", err)
	}

	return r.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, `
			UPDATE documents SET status = ?, error_details = '', updated_at = ?
			WHERE id = ? AND status = ?`,
			string(models.StatusCompleted), r.now(), a.DocumentID, string(models.StatusAnalyzing))
		if err != nil {
			return fmt.Errorf("registry: complete document: %w", err)
		}
		if err := r.conflictOrMissing(ctx, tx, res, a.DocumentID); err != nil {
			return err
		}
		_, err = r.exec(ctx, tx, `
			INSERT INTO analyses (id, document_id, owner_id, risk_level, risk_score, summary,
				risk_items, key_clauses, recommendations, processing_time_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.DocumentID, a.OwnerID, string(a.RiskLevel), a.RiskScore, a.Summary,
			string(riskItems), string(keyClauses), string(recommendations), a.ProcessingTimeMs, a.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("registry: insert analysis: %w", err)
		}
		return nil
	})
}

const analysisColumns = `id, document_id, owner_id, risk_level, risk_score, summary,
	risk_items, key_clauses, recommendations, processing_time_ms, created_at`

func (r *SQLRegistry) GetAnalysis(ctx context.Context, documentID string) (*models.Analysis, error) {
	row := r.queryRow(ctx, r.db, `SELECT `+analysisColumns+` FROM analyses WHERE document_id = ?`, documentID)

	var (
		a                                      models.Analysis
		level                                  string
		riskItems, keyClauses, recommendations []byte
	)
	err := row.Scan(&a.ID, &a.DocumentID, &a.OwnerID, &level, &a.RiskScore, &a.Summary,
		&riskItems, &keyClauses, &recommendations, &a.ProcessingTimeMs, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get analysis: %w", err)
	}
	a.RiskLevel = models.RiskLevel(level)
	if err := decodeAnalysisJSON(&a, riskItems, keyClauses, recommendations); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLRegistry) AppendTurn(ctx context.Context, turn *models.ChatTurn) error {
	return r.runInTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		err := r.queryRow(ctx, tx,
			`UPDATE documents SET turn_seq = turn_seq + 1 WHERE id = ? RETURNING turn_seq`,
			turn.DocumentID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("registry: allocate turn sequence: %w", err)
		}
		_, err = r.exec(ctx, tx, `
			INSERT INTO chat_turns (id, document_id, seq, role, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			turn.ID, turn.DocumentID, seq, string(turn.Role), turn.Content, turn.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("registry: insert chat turn: %w", err)
		}
		turn.Seq = seq
		return nil
	})
}

func (r *SQLRegistry) RecentTurns(ctx context.Context, documentID string, limit int) ([]models.ChatTurn, error) {
	rows, err := r.query(ctx, r.db, `
		SELECT id, document_id, seq, role, content, created_at FROM (
			SELECT id, document_id, seq, role, content, created_at
			FROM chat_turns WHERE document_id = ?
			ORDER BY seq DESC LIMIT ?
		) recent ORDER BY seq ASC`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: recent turns: %w", err)
	}
	return scanTurns(rows)
}

func (r *SQLRegistry) ListTurns(ctx context.Context, documentID string) ([]models.ChatTurn, error) {
	rows, err := r.query(ctx, r.db, `
		SELECT id, document_id, seq, role, content, created_at
		FROM chat_turns WHERE document_id = ? ORDER BY seq ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("registry: list turns: %w", err)
	}
	return scanTurns(rows)
}

// buildDocumentWhere builds the WHERE clause of an owner's listing.
func buildDocumentWhere(ownerID string, filter models.ListFilter) (string, []any) {
	conditions := []string{"d.owner_id = ?"}
	args := []any{ownerID}
	if filter.Status != nil {
		conditions = append(conditions, "d.status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.RiskLevel != nil {
		conditions = append(conditions, "a.risk_level = ?")
		args = append(args, string(*filter.RiskLevel))
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *SQLRegistry) ListDocuments(ctx context.Context, ownerID string, filter models.ListFilter, limit, offset int) ([]models.DocumentView, int, error) {
	where, args := buildDocumentWhere(ownerID, filter)

	var total int
	err := r.queryRow(ctx, r.db, `
		SELECT COUNT(*) FROM documents d LEFT JOIN analyses a ON a.document_id = d.id `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: count documents: %w", err)
	}

	rows, err := r.query(ctx, r.db, `
		SELECT d.id, d.owner_id, d.file_name, d.file_type, d.mime_type, d.file_size_bytes, d.file_hash,
			d.page_count, d.storage_ref, d.status, d.error_details, d.created_at, d.updated_at,
			a.id, a.owner_id, a.risk_level, a.risk_score, a.summary, a.risk_items, a.key_clauses,
			a.recommendations, a.processing_time_ms, a.created_at
		FROM documents d LEFT JOIN analyses a ON a.document_id = d.id
		`+where+`
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list documents: %w", err)
	}
	defer rows.Close()

	views := []models.DocumentView{}
	for rows.Next() {
		var (
			v                                      models.DocumentView
			storageRef                             sql.NullString
			status                                 string
			aID, aOwner, aLevel, aSummary          sql.NullString
			aScore, aProcessing                    sql.NullInt64
			aCreated                               sql.NullTime
			riskItems, keyClauses, recommendations []byte
		)
		err := rows.Scan(&v.ID, &v.OwnerID, &v.FileName, &v.FileType, &v.MIMEType, &v.FileSizeBytes, &v.FileHash,
			&v.PageCount, &storageRef, &status, &v.ErrorDetails, &v.CreatedAt, &v.UpdatedAt,
			&aID, &aOwner, &aLevel, &aScore, &aSummary, &riskItems, &keyClauses,
			&recommendations, &aProcessing, &aCreated)
		if err != nil {
			return nil, 0, fmt.Errorf("registry: scan document: %w", err)
		}
		v.Status = models.Status(status)
		if storageRef.Valid {
			v.StorageRef = &storageRef.String
		}
		if aID.Valid {
			a := &models.Analysis{
				ID:               aID.String,
				DocumentID:       v.ID,
				OwnerID:          aOwner.String,
				RiskLevel:        models.RiskLevel(aLevel.String),
				RiskScore:        int(aScore.Int64),
				Summary:          aSummary.String,
				ProcessingTimeMs: aProcessing.Int64,
				CreatedAt:        aCreated.Time,
			}
			if err := decodeAnalysisJSON(a, riskItems, keyClauses, recommendations); err != nil {
				return nil, 0, err
			}
			v.Analysis = a
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("registry: iterate documents: %w", err)
	}
	return views, total, nil
}

func (r *SQLRegistry) DeleteDocument(ctx context.Context, id string) error {
	return r.runInTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx, `DELETE FROM chat_turns WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("registry: delete chat turns: %w", err)
		}
		if _, err := r.exec(ctx, tx, `DELETE FROM analyses WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("registry: delete analysis: %w", err)
		}
		res, err := r.exec(ctx, tx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("registry: delete document: %w", err)
		}
		return expectOne(res, ErrNotFound)
	})
}

func (r *SQLRegistry) Statistics(ctx context.Context, ownerID string, since time.Time) (*models.Statistics, error) {
	stats := &models.Statistics{}
	err := r.queryRow(ctx, r.db, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM documents WHERE owner_id = ?`,
		string(models.StatusCompleted), ownerID).Scan(&stats.TotalDocuments, &stats.CompletedDocuments)
	if err != nil {
		return nil, fmt.Errorf("registry: document statistics: %w", err)
	}

	var avgWeight, avgProcessing float64
	err = r.queryRow(ctx, r.db, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(CAST(AVG(CASE risk_level WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 END) AS DOUBLE PRECISION), 0),
			COALESCE(CAST(AVG(processing_time_ms) AS DOUBLE PRECISION), 0)
		FROM analyses WHERE owner_id = ?`,
		since.UTC(), ownerID).Scan(&stats.TotalAnalyses, &stats.MonthlyAnalyses, &avgWeight, &avgProcessing)
	if err != nil {
		return nil, fmt.Errorf("registry: analysis statistics: %w", err)
	}

	stats.CompletionRate = completionRate(stats.CompletedDocuments, stats.TotalDocuments)
	stats.AverageRiskLevel = averageRiskLevel(avgWeight)
	stats.AverageProcessingMs = int64(avgProcessing + 0.5)
	return stats, nil
}

const contractColumns = `id, owner_id, contract_type, title, party_a, party_b, terms,
	additional_clauses, content, processing_time_ms, created_at`

func (r *SQLRegistry) CreateContract(ctx context.Context, c *models.GeneratedContract) error {
	c.Normalize()
	encoded := make([]string, 0, 4)
	for _, v := range []any{c.PartyA, c.PartyB, c.Terms, c.AdditionalClauses} {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("registry: encode contract %s: %w", c.ID, err)
		}
		encoded = append(encoded, string(raw))
	}
	_, err := r.exec(ctx, r.db, `
		INSERT INTO generated_contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, string(c.ContractType), c.Title, encoded[0], encoded[1], encoded[2],
		encoded[3], c.Content, c.ProcessingTimeMs, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("registry: create contract: %w", err)
	}
	return nil
}

func (r *SQLRegistry) ListContracts(ctx context.Context, ownerID string, contractType *models.ContractType, limit, offset int) ([]models.GeneratedContract, int, error) {
	where, args := "WHERE owner_id = ?", []any{ownerID}
	if contractType != nil {
		where += " AND contract_type = ?"
		args = append(args, string(*contractType))
	}

	var total int
	if err := r.queryRow(ctx, r.db, `SELECT COUNT(*) FROM generated_contracts `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("registry: count contracts: %w", err)
	}

	rows, err := r.query(ctx, r.db, `
		SELECT `+contractColumns+` FROM generated_contracts
		`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("registry: list contracts: %w", err)
	}
	defer rows.Close()

	contracts := []models.GeneratedContract{}
	for rows.Next() {
		var (
			c                                  models.GeneratedContract
			contractType                       string
			partyA, partyB, terms, additionals []byte
		)
		err := rows.Scan(&c.ID, &c.OwnerID, &contractType, &c.Title, &partyA, &partyB, &terms,
			&additionals, &c.Content, &c.ProcessingTimeMs, &c.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("registry: scan contract: %w", err)
		}
		c.ContractType = models.ContractType(contractType)
		for _, f := range []struct {
			raw []byte
			dst any
		}{
			{partyA, &c.PartyA},
			{partyB, &c.PartyB},
			{terms, &c.Terms},
			{additionals, &c.AdditionalClauses},
		} {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return nil, 0, fmt.Errorf("registry: decode contract %s: %w", c.ID, err)
			}
		}
		c.Normalize()
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("registry: iterate contracts: %w", err)
	}
	return contracts, total, nil
}

// conflictOrMissing interprets a conditional update: no affected row means
// either the document is gone or its status did not match.
func (r *SQLRegistry) conflictOrMissing(ctx context.Context, q execer, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = r.queryRow(ctx, q, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("registry: check document: %w", err)
	}
	return ErrStatusConflict
}

func expectOne(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d                         models.Document
		storageRef, extractedText sql.NullString
		status                    string
	)
	err := row.Scan(&d.ID, &d.OwnerID, &d.FileName, &d.FileType, &d.MIMEType, &d.FileSizeBytes, &d.FileHash,
		&d.PageCount, &storageRef, &extractedText, &status, &d.ErrorDetails, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.Status(status)
	if storageRef.Valid {
		d.StorageRef = &storageRef.String
	}
	if extractedText.Valid {
		d.ExtractedText = &extractedText.String
	}
	return &d, nil
}

func scanTurns(rows *sql.Rows) ([]models.ChatTurn, error) {
	defer rows.Close()
	turns := []models.ChatTurn{}
	for rows.Next() {
		var (
			t    models.ChatTurn
			role string
		)
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.Seq, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("registry: scan chat turn: %w", err)
		}
		t.Role = models.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate chat turns: %w", err)
	}
	return turns, nil
}

func decodeAnalysisJSON(a *models.Analysis, riskItems, keyClauses, recommendations []byte) error {
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{riskItems, &a.RiskItems},
		{keyClauses, &a.KeyClauses},
		{recommendations, &a.Recommendations},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return fmt.Errorf("registry: decode analysis %s: %w", a.ID, err)
		}
	}
	a.Normalize()
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
