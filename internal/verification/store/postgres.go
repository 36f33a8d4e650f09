package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"guildgate/internal/verification/models"
	"guildgate/pkg/platform/sentinel"
	"guildgate/pkg/platform/tx"
)

// PostgresStore persists verification records in PostgreSQL. It works with
// either the lib/pq or the pgx stdlib driver.
type PostgresStore struct {
	db        *sql.DB
	txTimeout time.Duration
}

type PostgresOption func(*PostgresStore)

// WithTxTimeout bounds Decide when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.txTimeout = d
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, txTimeout: tx.DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const recordColumns = `guild_id, user_id, verified, network_hash, ip_risk_score::integer, fingerprint_id, created_at, granted_at`

// Decide serializes deciders on the same (community, network) with a
// transaction-scoped advisory lock, so the reuse check and the upsert cannot
// interleave with another subject's.
func (s *PostgresStore) Decide(ctx context.Context, req models.DecideRequest) (models.Outcome, error) {
	if err := validateDecide(req); err != nil {
		return "", err
	}

	var outcome models.Outcome
	err := tx.Run(ctx, s.db, s.txTimeout, func(ctx context.Context, sqlTx *sql.Tx) error {
		if _, err := sqlTx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`,
			req.CommunityID, req.NetworkHash,
		); err != nil {
			return fmt.Errorf("acquire network lock: %w", err)
		}

		var holder string
		err := sqlTx.QueryRowContext(ctx, `
			SELECT user_id FROM verifications
			WHERE guild_id = $1 AND network_hash = $2 AND verified = true AND user_id <> $3
			LIMIT 1
		`, req.CommunityID, req.NetworkHash, req.SubjectID).Scan(&holder)
		taken := true
		if errors.Is(err, sql.ErrNoRows) {
			taken = false
		} else if err != nil {
			return fmt.Errorf("check network reuse: %w", err)
		}

		outcome = models.Decide(taken, req.RiskScore)
		return upsertDecision(ctx, sqlTx, req, outcome)
	})
	if err != nil {
		return "", storeError("decide", err)
	}
	return outcome, nil
}

func upsertDecision(ctx context.Context, sqlTx *sql.Tx, req models.DecideRequest, outcome models.Outcome) error {
	var grantedAt *time.Time
	if outcome.IsGranted() {
		now := req.Now.UTC()
		grantedAt = &now
	}
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO verifications (guild_id, user_id, verified, network_hash, ip_risk_score, created_at, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			verified = EXCLUDED.verified,
			network_hash = EXCLUDED.network_hash,
			ip_risk_score = EXCLUDED.ip_risk_score,
			granted_at = EXCLUDED.granted_at
	`,
		req.CommunityID,
		req.SubjectID,
		outcome.IsGranted(),
		req.NetworkHash,
		req.RiskScore,
		req.Now.UTC(),
		grantedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, communityID, subjectID string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verifications WHERE guild_id = $1 AND user_id = $2`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, communityID, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, storeError("get verification", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM verifications
		WHERE guild_id = $1 AND ($2::boolean IS NULL OR verified = $2)
		ORDER BY granted_at DESC NULLS LAST, created_at DESC, user_id
		LIMIT $3
	`
	var verified sql.NullBool
	if filter.Verified != nil {
		verified = sql.NullBool{Bool: *filter.Verified, Valid: true}
	}
	rows, err := s.db.QueryContext(ctx, query, filter.CommunityID, verified, filter.NormalizedLimit())
	if err != nil {
		return nil, storeError("list verifications", err)
	}
	defer rows.Close()

	out := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeError("scan verification", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list verifications", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec         models.Record
		verified    sql.NullBool
		networkHash sql.NullString
		riskScore   sql.NullInt64
		fingerprint sql.NullString
		createdAt   sql.NullTime
		grantedAt   sql.NullTime
	)
	if err := row.Scan(
		&rec.CommunityID,
		&rec.SubjectID,
		&verified,
		&networkHash,
		&riskScore,
		&fingerprint,
		&createdAt,
		&grantedAt,
	); err != nil {
		return nil, err
	}
	rec.Verified = verified.Valid && verified.Bool
	if networkHash.Valid {
		rec.NetworkHash = &networkHash.String
	}
	if riskScore.Valid {
		score := int(riskScore.Int64)
		rec.RiskScore = &score
	}
	if fingerprint.Valid {
		rec.FingerprintID = &fingerprint.String
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time.UTC()
	}
	if grantedAt.Valid {
		t := grantedAt.Time.UTC()
		rec.GrantedAt = &t
	}
	return &rec, nil
}

// storeError marks err as an infrastructure failure, keeping the SQLSTATE
// when the driver reports one.
func storeError(op string, err error) error {
	if code := sqlState(err); code != "" {
		return fmt.Errorf("%s (sqlstate %s): %w: %w", op, code, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
