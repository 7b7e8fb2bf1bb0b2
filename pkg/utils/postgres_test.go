package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// txLog is a database/sql driver that only records transaction boundaries.
type txLog struct {
	mu     sync.Mutex
	events []string
}

func (l *txLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *txLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type logDriver struct{ log *txLog }

func (d logDriver) Open(string) (driver.Conn, error) { return logConn(d), nil }

type logConn struct{ log *txLog }

func (c logConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c logConn) Close() error                        { return nil }
func (c logConn) Begin() (driver.Tx, error) {
	c.log.add("begin")
	return logTx(c), nil
}

type logTx struct{ log *txLog }

func (t logTx) Commit() error   { t.log.add("commit"); return nil }
func (t logTx) Rollback() error { t.log.add("rollback"); return nil }

var registerOnce sync.Once
var sharedLog = &txLog{}

func openLogDB(t *testing.T) (*sql.DB, *txLog) {
	t.Helper()
	registerOnce.Do(func() { sql.Register("txlog", logDriver{log: sharedLog}) })
	sharedLog.mu.Lock()
	sharedLog.events = nil
	sharedLog.mu.Unlock()

	db, err := sql.Open("txlog", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, sharedLog
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, log := openLogDB(t)
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "commit"}, log.snapshot())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, log := openLogDB(t)
	boom := errors.New("boom")
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"begin", "rollback"}, log.snapshot())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, log := openLogDB(t)
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error { panic("kaboom") })
	})
	assert.Equal(t, []string{"begin", "rollback"}, log.snapshot())
}

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	assert.Equal(t, 5, c.MaxOpenConns)
	assert.Equal(t, 25, c.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, c.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, c.PingTimeout)
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "call_attempts_one_open_per_prospect"}
	assert.True(t, IsUniqueViolation(err, "call_attempts_one_open_per_prospect"))
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, "other_constraint"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("23505"), ""))
}
