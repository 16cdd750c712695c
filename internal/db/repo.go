package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"intake-chatbot/pkg"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("db: not found")

// Repository wraps database operations for sessions, turns, digests and
// reports.  It satisfies core.Store.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a Repository from an existing sql.DB.  The caller
// owns the connection lifecycle.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// CreateSession inserts the session row.
func (r *Repository) CreateSession(ctx context.Context, s pkg.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, message_cap)
         VALUES ($1, $2, $3)
         ON CONFLICT (id) DO NOTHING`,
		s.ID, s.CreatedAt, s.MessageCap,
	)
	return err
}

// AppendTurns stores the turns of one committed step in a single
// transaction so a transcript never holds half a turn.
func (r *Repository) AppendTurns(ctx context.Context, sessionID string, turns []pkg.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (session_id, role, text, created_at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range turns {
		if _, err := stmt.ExecContext(ctx, sessionID, string(t.Role), t.Text, t.Timestamp); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return tx.Commit()
}

// GetTranscript returns the turns of a session in order.
func (r *Repository) GetTranscript(ctx context.Context, sessionID string) ([]pkg.Turn, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT role, text, created_at
         FROM turns
         WHERE session_id = $1
         ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcript []pkg.Turn
	for rows.Next() {
		var t pkg.Turn
		var role string
		if err := rows.Scan(&role, &t.Text, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Role = pkg.Role(role)
		transcript = append(transcript, t)
	}
	return transcript, rows.Err()
}

// SaveDigest creates or replaces the digest of a session.
func (r *Repository) SaveDigest(ctx context.Context, sessionID string, d pkg.Digest) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO summaries (session_id, presenting_concerns, emotional_state, risk_factors,
                                support_needs, recommended_care, topics, fallback, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
         ON CONFLICT (session_id) DO UPDATE SET
            presenting_concerns = EXCLUDED.presenting_concerns,
            emotional_state     = EXCLUDED.emotional_state,
            risk_factors        = EXCLUDED.risk_factors,
            support_needs       = EXCLUDED.support_needs,
            recommended_care    = EXCLUDED.recommended_care,
            topics              = EXCLUDED.topics,
            fallback            = EXCLUDED.fallback,
            updated_at          = NOW()`,
		sessionID, d.PresentingConcerns, d.EmotionalState, d.RiskFactors,
		d.SupportNeeds, d.RecommendedCare, pq.Array(d.Topics), d.Fallback,
	)
	return err
}

// GetDigest loads the digest of a session.
func (r *Repository) GetDigest(ctx context.Context, sessionID string) (*pkg.Digest, error) {
	var d pkg.Digest
	err := r.DB.QueryRowContext(ctx,
		`SELECT presenting_concerns, emotional_state, risk_factors, support_needs,
                recommended_care, topics, fallback
         FROM summaries WHERE session_id = $1`, sessionID,
	).Scan(&d.PresentingConcerns, &d.EmotionalState, &d.RiskFactors, &d.SupportNeeds,
		&d.RecommendedCare, pq.Array(&d.Topics), &d.Fallback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CloseSession stamps the session as closed.
func (r *Repository) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE sessions SET closed_at = $2 WHERE id = $1 AND closed_at IS NULL`,
		sessionID, at)
	return err
}

// CreateReport stores a finished session's report and returns its ID.
func (r *Repository) CreateReport(ctx context.Context, rep pkg.Report) (string, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	resources, err := json.Marshal(rep.Resources)
	if err != nil {
		return "", err
	}
	var comments []byte
	if rep.Comments != nil {
		if comments, err = json.Marshal(rep.Comments); err != nil {
			return "", err
		}
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO reports (id, session_id, summary, resources, comments)
         VALUES ($1, $2, $3, $4, $5)`,
		rep.ID, rep.SessionID, rep.Summary, resources, nullJSON(comments),
	)
	if err != nil {
		return "", err
	}
	return rep.ID, nil
}

// LatestReport returns the newest report of a session.
func (r *Repository) LatestReport(ctx context.Context, sessionID string) (*pkg.Report, error) {
	var (
		rep       pkg.Report
		resources []byte
		comments  []byte
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, session_id, summary, resources, comments, created_at
         FROM reports
         WHERE session_id = $1
         ORDER BY created_at DESC
         LIMIT 1`, sessionID,
	).Scan(&rep.ID, &rep.SessionID, &rep.Summary, &resources, &comments, &rep.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeReport(&rep, resources, comments); err != nil {
		return nil, err
	}
	return &rep, nil
}

func decodeReport(rep *pkg.Report, resources, comments []byte) error {
	if err := json.Unmarshal(resources, &rep.Resources); err != nil {
		return fmt.Errorf("decode resources: %w", err)
	}
	if len(comments) > 0 {
		rep.Comments = new(pkg.PersonalizedComments)
		if err := json.Unmarshal(comments, rep.Comments); err != nil {
			return fmt.Errorf("decode comments: %w", err)
		}
	}
	return nil
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
