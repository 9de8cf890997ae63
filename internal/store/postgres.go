package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/contentship/internal/rules"
)

const notifyChannel = "content_changes"

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Definitions are stored as JSONB documents so legacy records with
// malformed variant lists survive a round trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store. The schema must
// already be migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for health checks and metrics.
func (p *PostgresStore) Pool() *pgxpool.Pool { return p.pool }

func (p *PostgresStore) ListDefinitions(ctx context.Context) ([]rules.Definition, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, body, updated_at FROM content_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var out []rules.Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetDefinition(ctx context.Context, id string) (*rules.Definition, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, body, updated_at FROM content_definitions WHERE id = $1`, id)
	d, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpsertDefinition writes the definition and notifies listeners in the same
// transaction.
func (p *PostgresStore) UpsertDefinition(ctx context.Context, d rules.Definition) (rules.Definition, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return rules.Definition{}, fmt.Errorf("encode definition: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return rules.Definition{}, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var updatedAt time.Time
	if err := tx.QueryRow(ctx, `
		INSERT INTO content_definitions (id, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		RETURNING updated_at
	`, d.ID, body).Scan(&updatedAt); err != nil {
		return rules.Definition{}, fmt.Errorf("upsert definition: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, d.ID); err != nil {
		return rules.Definition{}, fmt.Errorf("notify definition change: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rules.Definition{}, fmt.Errorf("commit upsert tx: %w", err)
	}

	d.UpdatedAt = updatedAt.UTC()
	return d, nil
}

func (p *PostgresStore) DeleteDefinition(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM content_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM content_views WHERE content_id = $1`, id); err != nil {
		return fmt.Errorf("delete views: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, id); err != nil {
		return fmt.Errorf("notify definition change: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetAssignment(ctx context.Context, testID, userKey string) (*Assignment, error) {
	a := Assignment{TestID: testID, UserKey: userKey}
	err := p.pool.QueryRow(ctx, `
		SELECT bucket, assigned_at, expires_at FROM experiment_assignments
		WHERE test_id = $1 AND user_key = $2
	`, testID, userKey).Scan(&a.Bucket, &a.AssignedAt, &a.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &a, nil
}

// PutAssignmentIfAbsent inserts a, replacing an existing row only once it
// has expired. Concurrent writers converge on the first committed row.
func (p *PostgresStore) PutAssignmentIfAbsent(ctx context.Context, a Assignment) (Assignment, error) {
	won := a
	err := p.pool.QueryRow(ctx, `
		INSERT INTO experiment_assignments (test_id, user_key, bucket, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (test_id, user_key) DO UPDATE
			SET bucket = EXCLUDED.bucket, assigned_at = EXCLUDED.assigned_at, expires_at = EXCLUDED.expires_at
			WHERE experiment_assignments.expires_at <= EXCLUDED.assigned_at
		RETURNING bucket, assigned_at, expires_at
	`, a.TestID, a.UserKey, a.Bucket, a.AssignedAt, a.ExpiresAt).Scan(&won.Bucket, &won.AssignedAt, &won.ExpiresAt)
	if err == nil {
		return won, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, fmt.Errorf("put assignment: %w", err)
	}

	existing, err := p.GetAssignment(ctx, a.TestID, a.UserKey)
	if err != nil {
		return Assignment{}, err
	}
	return *existing, nil
}

func (p *PostgresStore) PurgeAssignments(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM experiment_assignments WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge assignments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) AddViews(ctx context.Context, contentID, variantID string, n int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO content_views (content_id, variant_id, views) VALUES ($1, $2, $3)
		ON CONFLICT (content_id, variant_id) DO UPDATE SET views = content_views.views + EXCLUDED.views
	`, contentID, variantID, n)
	if err != nil {
		return fmt.Errorf("add views: %w", err)
	}
	return nil
}

func (p *PostgresStore) Views(ctx context.Context, contentID string) (map[string]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT variant_id, views FROM content_views WHERE content_id = $1`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var variantID string
		var n int64
		if err := rows.Scan(&variantID, &n); err != nil {
			return nil, fmt.Errorf("scan views: %w", err)
		}
		out[variantID] = n
	}
	return out, rows.Err()
}

// Subscribe listens on the change channel with a dedicated connection,
// reconnecting after failures until ctx is done.
func (p *PostgresStore) Subscribe(ctx context.Context) (<-chan string, error) {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for {
			err := p.listen(ctx, out)
			if err == nil || ctx.Err() != nil {
				return
			}
			retry := time.NewTimer(time.Second)
			select {
			case <-ctx.Done():
				retry.Stop()
				return
			case <-retry.C:
			}
		}
	}()
	return out, nil
}

func (p *PostgresStore) listen(ctx context.Context, out chan<- string) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen on %q: %w", notifyChannel, err)
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		select {
		case out <- n.Payload:
		default:
		}
	}
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanDefinition(row pgx.Row) (rules.Definition, error) {
	var (
		id        string
		body      []byte
		updatedAt time.Time
	)
	if err := row.Scan(&id, &body, &updatedAt); err != nil {
		return rules.Definition{}, err
	}
	var d rules.Definition
	if err := json.Unmarshal(body, &d); err != nil {
		return rules.Definition{}, fmt.Errorf("decode definition %q: %w", id, err)
	}
	d.ID = id
	d.UpdatedAt = updatedAt.UTC()
	return d, nil
}
