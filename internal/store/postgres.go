package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iwasamnot/campuschat/internal/models"
	"github.com/iwasamnot/campuschat/internal/snowflake"
)

const notifyChannel = "campuschat_messages"

// PostgresStore implements Store on Postgres. Documents live in a JSONB
// column; LISTEN/NOTIFY turns row changes into push deliveries so
// subscribers see the same snapshot-batch semantics as the remote backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	gen  *snowflake.Generator
}

// NewPostgresPool creates a connection pool with the standard limits.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 20
	config.MinConns = 2
	return pgxpool.NewWithConfig(ctx, config)
}

// Migrate applies pending schema migrations from the given directory.
func Migrate(databaseURL, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		return fmt.Errorf("opening migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NewPostgresStore creates a PostgresStore over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, nodeID int64) (*PostgresStore, error) {
	gen, err := snowflake.NewGenerator(nodeID)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, gen: gen}, nil
}

func (s *PostgresStore) Write(ctx context.Context, msg *models.Message) (string, error) {
	stored := msg.Clone()
	stored.ID = s.gen.Generate()
	if stored.CreatedAt.IsZero() {
		row := s.pool.QueryRow(ctx, `SELECT now()`)
		if err := row.Scan(&stored.CreatedAt); err != nil {
			return "", categorize(fmt.Errorf("reading server time: %w", err))
		}
	}
	raw, err := EncodeMessage(&stored)
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, doc, created_at, pinned, pinned_at, thread_parent_id)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		stored.ID, raw, stored.CreatedAt, stored.Pinned, stored.PinnedAt, stored.ThreadParentID)
	if err != nil {
		return "", categorize(fmt.Errorf("inserting message: %w", err))
	}

	msg.ID = stored.ID
	msg.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

func (s *PostgresStore) Update(ctx context.Context, msg *models.Message) error {
	raw, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages
		 SET doc = $2, pinned = $3, pinned_at = $4, thread_parent_id = NULLIF($5, '')
		 WHERE id = $1`,
		msg.ID, raw, msg.Pinned, msg.PinnedAt, msg.ThreadParentID)
	if err != nil {
		return categorize(fmt.Errorf("updating message %s: %w", msg.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating message %s: %w", msg.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return categorize(fmt.Errorf("deleting message %s: %w", id, err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Message, error) {
	var raw json.RawMessage
	row := s.pool.QueryRow(ctx, `SELECT doc FROM messages WHERE id = $1`, id)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("getting message %s: %w", id, ErrNotFound)
		}
		return nil, categorize(fmt.Errorf("getting message %s: %w", id, err))
	}
	return DecodeMessage(raw)
}

func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	// Verify the window query works before handing out a subscription so
	// index problems surface at subscribe time, as the remote backend does.
	if _, err := s.queryWindow(ctx, q); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &postgresSub{
		store:   s,
		query:   q,
		batches: make(chan Batch, subBufferSize),
		known:   make(map[string]string),
		cancel:  cancel,
	}
	go sub.run(subCtx)
	return sub, nil
}

// queryWindow fetches the documents currently in the subscribed window.
func (s *PostgresStore) queryWindow(ctx context.Context, q Query) (map[string]json.RawMessage, error) {
	sql := `SELECT id, doc FROM messages`
	if q.PinnedOnly {
		sql += ` WHERE pinned`
	}
	if q.OrderByPinnedAt {
		sql += ` ORDER BY pinned_at DESC NULLS LAST, id DESC`
	} else {
		sql += ` ORDER BY created_at DESC, id DESC`
	}
	args := []any{}
	if q.Limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, categorize(fmt.Errorf("querying window: %w", err))
	}
	defer rows.Close()

	window := make(map[string]json.RawMessage)
	for rows.Next() {
		var id string
		var raw json.RawMessage
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, categorize(fmt.Errorf("scanning window row: %w", err))
		}
		window[id] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, categorize(fmt.Errorf("reading window rows: %w", err))
	}
	return window, nil
}

type postgresSub struct {
	store   *PostgresStore
	query   Query
	batches chan Batch
	cancel  context.CancelFunc

	mu    sync.Mutex
	known map[string]string
	err   error

	closeOnce sync.Once
}

func (p *postgresSub) run(ctx context.Context) {
	// run is the sole closer of batches; Close only cancels the context,
	// so there is no send-on-closed-channel race with deliver.
	defer close(p.batches)
	defer p.Close()

	conn, err := p.store.pool.Acquire(ctx)
	if err != nil {
		p.fail(categorize(fmt.Errorf("acquiring listen connection: %w", err)))
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		p.fail(categorize(fmt.Errorf("listening on %s: %w", notifyChannel, err)))
		return
	}

	// Initial snapshot, then one re-query per notification.
	if err := p.deliver(ctx); err != nil {
		p.fail(err)
		return
	}
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.fail(categorize(fmt.Errorf("waiting for notification: %w", err)))
			return
		}
		if err := p.deliver(ctx); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *postgresSub) deliver(ctx context.Context) error {
	window, err := p.store.queryWindow(ctx, p.query)
	if err != nil {
		return err
	}

	p.mu.Lock()
	var deltas []Delta
	for id, raw := range window {
		prev, ok := p.known[id]
		switch {
		case !ok:
			deltas = append(deltas, Delta{Kind: DeltaAdd, ID: id, Record: raw})
		case prev != string(raw):
			deltas = append(deltas, Delta{Kind: DeltaModify, ID: id, Record: raw})
		}
	}
	for id := range p.known {
		if _, ok := window[id]; !ok {
			deltas = append(deltas, Delta{Kind: DeltaRemove, ID: id})
		}
	}
	p.mu.Unlock()

	if len(deltas) == 0 {
		return nil
	}

	// Deterministic delivery order within a batch.
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ID < deltas[j].ID })

	// The send blocks until the consumer takes the batch or the
	// subscription closes, and the diff baseline advances only after a
	// delivered batch, so a slow consumer delays deltas instead of
	// losing them.
	select {
	case p.batches <- Batch{Deltas: deltas}:
	case <-ctx.Done():
		return nil
	}

	p.mu.Lock()
	p.known = make(map[string]string, len(window))
	for id, raw := range window {
		p.known[id] = string(raw)
	}
	p.mu.Unlock()
	return nil
}

func (p *postgresSub) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

func (p *postgresSub) Batches() <-chan Batch { return p.batches }

func (p *postgresSub) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *postgresSub) Close() {
	p.closeOnce.Do(p.cancel)
}

// categorize maps Postgres errors onto the store taxonomy.
func categorize(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53100", "53200", "53300", "53400": // resource exhaustion class
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		case "42P01", "42703": // missing table or column
			return fmt.Errorf("%w: %v", ErrMissingIndex, err)
		case "42501", "28000": // insufficient privilege, invalid auth
			return fmt.Errorf("%w: %v", ErrPermission, err)
		}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
