package registry

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"go-upload-notifier/internal/domain/connection"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the registry schema migrations to the database at dsn.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return unavailable("migrate", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// Postgres stores connections in the connections table.
type Postgres struct {
	pool     *pgxpool.Pool
	pageSize int
}

var _ Registry = (*Postgres)(nil)

// NewPostgres opens a connection pool to dsn.
func NewPostgres(ctx context.Context, dsn string, maxConns int32, pageSize int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("connect", err)
	}

	if pageSize < 1 {
		pageSize = 500
	}
	return &Postgres{pool: pool, pageSize: pageSize}, nil
}

func (p *Postgres) Insert(ctx context.Context, conn connection.Connection) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO connections (id, established_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET established_at = EXCLUDED.established_at`,
		conn.ID, conn.EstablishedAt.UTC(),
	)
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

// List pages by primary key. Ids are strictly increasing across pages, so
// no id is yielded twice.
func (p *Postgres) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		after := ""
		for {
			page, err := p.page(ctx, after)
			if err != nil {
				yield("", err)
				return
			}

			for _, id := range page {
				if !yield(id, nil) {
					return
				}
			}

			if len(page) < p.pageSize {
				return
			}
			after = page[len(page)-1]
		}
	}
}

func (p *Postgres) page(ctx context.Context, after string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id FROM connections WHERE id > $1 ORDER BY id LIMIT $2`,
		after, p.pageSize,
	)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	ids := make([]string, 0, p.pageSize)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return ids, nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM connections`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
