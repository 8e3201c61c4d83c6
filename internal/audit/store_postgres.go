package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-connection transactional advisory locks to guarantee strict
//   monotonic seq ordering under concurrency (multiple goroutines recording
//   events for the same connection id, e.g. a handshake timeout racing a
//   late frame).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "cwdtp_audit").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("audit: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("audit: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "cwdtp_audit",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// AppendEvent appends an event with monotonic per-connection sequence allocation.
func (s *PostgresStore) AppendEvent(ctx context.Context, in AppendEventInput) (AppendEventResult, error) {
	if s == nil || s.pool == nil {
		return AppendEventResult{}, errors.New("audit: nil store")
	}
	if in.ConnID == "" || in.Kind == "" {
		return AppendEventResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendEventResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendEventResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := pgIdent(s.schema, "connection_event_cursors")
	events := pgIdent(s.schema, "connection_events")

	// Serialize all writes per connection id to guarantee strict monotonic
	// ordering without races. hashtextextended reduces collision risk vs
	// hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConnID); err != nil {
		return AppendEventResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conn_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conn_id) DO NOTHING`,
		in.ConnID,
	); err != nil {
		return AppendEventResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conn_id = $1
		RETURNING (next_seq - 1)`,
		in.ConnID,
	).Scan(&seq); err != nil {
		return AppendEventResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+events+` (
		     conn_id, seq, kind, reason, peer_ip, role, at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ConnID, seq, string(in.Kind), in.Reason, in.PeerIP, in.Role, now,
	); err != nil {
		return AppendEventResult{}, fmt.Errorf("insert event: %w", err)
	}

	out := Event{
		ConnID: in.ConnID,
		Seq:    seq,
		Kind:   in.Kind,
		Reason: in.Reason,
		PeerIP: in.PeerIP,
		Role:   in.Role,
		At:     now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendEventResult{}, err
	}
	return AppendEventResult{Stored: out}, nil
}

// FetchHistory returns events ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if s == nil || s.pool == nil {
		return FetchHistoryResult{}, errors.New("audit: nil store")
	}
	if in.ConnID == "" {
		return FetchHistoryResult{}, errors.New("missing conn_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	fetch := limit + 1

	events := pgIdent(s.schema, "connection_events")

	var (
		rows pgx.Rows
		err  error
	)

	if in.AfterSeq == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT conn_id, seq, kind, reason, peer_ip, role, at
			   FROM `+events+`
			  WHERE conn_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.ConnID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT conn_id, seq, kind, reason, peer_ip, role, at
			   FROM `+events+`
			  WHERE conn_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.ConnID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	evts := make([]Event, 0, fetch)
	for rows.Next() {
		var (
			e    Event
			kind string
		)
		if err := rows.Scan(&e.ConnID, &e.Seq, &kind, &e.Reason, &e.PeerIP, &e.Role, &e.At); err != nil {
			return FetchHistoryResult{}, err
		}
		e.Kind = EventKind(kind)
		evts = append(evts, e)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	hasMore := len(evts) > limit
	if hasMore {
		evts = evts[:limit]
	}

	return FetchHistoryResult{Events: evts, HasMore: hasMore}, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
