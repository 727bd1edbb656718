// Package pgxroster reads the enrollment roster from the school portal's postgres database.
package pgxroster

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core/roster"
)

// the roster is read rarely: a couple of connections is plenty
const maxConns = 4

type Provider struct {
	pool  *pgxpool.Pool
	table string
}

var _ roster.Provider = (*Provider)(nil)

// Connect opens a small connection pool to the portal database and checks it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing roster dsn")
	}
	if conf.MaxConns > maxConns {
		conf.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to roster database")
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging roster database")
	}
	return pool, nil
}

// New reads students from table (the portal's "students" table unless configured otherwise).
func New(pool *pgxpool.Pool, table string) *Provider {
	if table == "" {
		table = "students"
	}
	return &Provider{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

func (p *Provider) ActiveStudents(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text FROM `+p.table+`
		WHERE deleted_at IS NULL AND is_active = true
		ORDER BY id
	`)
	if err != nil {
		return nil, roster.Unavailable(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, roster.Unavailable(err)
	}
	return ids, nil
}

func (p *Provider) Student(ctx context.Context, id string) (roster.Student, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(name, ''), COALESCE(email, '') FROM `+p.table+`
		WHERE id::text = $1 AND deleted_at IS NULL
	`, id)

	var s roster.Student
	if err := row.Scan(&s.ID, &s.Name, &s.Email); err != nil {
		if err == pgx.ErrNoRows {
			return roster.Student{}, roster.ErrStudentNotFound
		}
		return roster.Student{}, roster.Unavailable(err)
	}
	return s, nil
}
