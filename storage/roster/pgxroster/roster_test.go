package pgxroster

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core/roster"
)

func setup(t *testing.T) *Provider {
	dsn := os.Getenv("TEST_ROSTER_DSN")
	if dsn == "" {
		t.Skip("TEST_ROSTER_DSN is not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	table := fmt.Sprintf("roster_test_%d", time.Now().UnixNano())
	ident := pgx.Identifier{table}.Sanitize()
	_, err = pool.Exec(ctx, `CREATE TABLE `+ident+` (
		id text PRIMARY KEY,
		name text,
		email text,
		is_active boolean NOT NULL DEFAULT true,
		deleted_at timestamptz
	)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), `DROP TABLE `+ident) })

	_, err = pool.Exec(ctx, `INSERT INTO `+ident+` (id, name, email, is_active, deleted_at) VALUES
		('stud-a', 'Amani', 'amani@test.cd', true, NULL),
		('stud-b', 'Baraka', NULL, true, NULL),
		('stud-c', 'Chausiku', NULL, false, NULL),
		('stud-d', 'Dalila', NULL, true, now())`)
	require.NoError(t, err)

	return New(pool, table)
}

func TestProvider_ActiveStudents(t *testing.T) {
	p := setup(t)

	ids, err := p.ActiveStudents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stud-a", "stud-b"}, ids)
}

func TestProvider_Student(t *testing.T) {
	p := setup(t)
	ctx := context.Background()

	s, err := p.Student(ctx, "stud-a")
	require.NoError(t, err)
	assert.Equal(t, roster.Student{ID: "stud-a", Name: "Amani", Email: "amani@test.cd"}, s)

	s, err = p.Student(ctx, "stud-b")
	require.NoError(t, err)
	_, ok := s.Address()
	assert.False(t, ok)

	_, err = p.Student(ctx, "stud-d")
	assert.Equal(t, roster.ErrStudentNotFound, err)
}

func TestProvider_unavailable(t *testing.T) {
	p := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ActiveStudents(ctx)
	assert.Equal(t, roster.ErrUnavailable, errors.Cause(err))
}
