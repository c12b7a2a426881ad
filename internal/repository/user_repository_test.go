package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver records every write and serves one canned user row for reads,
// so repository SQL can be asserted without a running MySQL.
type stubDriver struct {
	mu    sync.Mutex
	execs []recordedExec
	row   []driver.Value
}

type recordedExec struct {
	query string
	args  []driver.Value
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return &stubConn{d: d}, nil }

func (d *stubDriver) Execs() []recordedExec {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]recordedExec, len(d.execs))
	copy(out, d.execs)
	return out
}

type stubConn struct {
	d *stubDriver
}

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare unsupported") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("begin unsupported") }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.d.mu.Lock()
	c.d.execs = append(c.d.execs, recordedExec{query: query, args: vals})
	c.d.mu.Unlock()
	return driver.RowsAffected(1), nil
}

func (c *stubConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &stubRows{row: c.d.row}, nil
}

type stubRows struct {
	row  []driver.Value
	done bool
}

func (r *stubRows) Columns() []string {
	return []string{"id", "telegram_id", "bot_name", "username", "first_name", "last_name", "locale", "balance", "created_at", "updated_at"}
}
func (r *stubRows) Close() error { return nil }
func (r *stubRows) Next(dest []driver.Value) error {
	if r.done || r.row == nil {
		return io.EOF
	}
	copy(dest, r.row)
	r.done = true
	return nil
}

var stubSeq atomic.Int64

func newStubDB(t *testing.T, d *stubDriver) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("repo-stub-%d", stubSeq.Add(1))
	sql.Register(name, d)
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedUserRow(id, telegramID int64, username, firstName, lastName string) []driver.Value {
	now := time.Now()
	return []driver.Value{id, telegramID, "reelforge", username, firstName, lastName, "ru", int64(100), now, now}
}

func TestEnsure_EmptyProfileLeavesStoredProfile(t *testing.T) {
	d := &stubDriver{row: storedUserRow(7, 100, "alice", "Alice", "Liddell")}
	repo := NewUserRepository(newStubDB(t, d))

	// Payment ingestion resolves users with no profile data at all.
	user, created, err := repo.Ensure(context.Background(), 100, "reelforge", "", "", "", "")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.False(t, created)
	assert.Equal(t, "alice", user.Username)

	// The background refresh must not fire for an all-empty profile.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Execs())
}

func TestEnsure_RefreshesKnownProfile(t *testing.T) {
	d := &stubDriver{row: storedUserRow(7, 100, "alice", "Alice", "Liddell")}
	repo := NewUserRepository(newStubDB(t, d))

	_, created, err := repo.Ensure(context.Background(), 100, "reelforge", "alice2", "Alice", "Liddell", "en")
	require.NoError(t, err)
	assert.False(t, created)

	require.Eventually(t, func() bool {
		return len(d.Execs()) == 1
	}, time.Second, 10*time.Millisecond)
	exec := d.Execs()[0]
	assert.Contains(t, exec.query, "UPDATE users")
	assert.Equal(t, []driver.Value{"alice2", "Alice", "Liddell", "en", int64(7)}, exec.args)
}

func TestUpdateProfile_EmptyFieldsKeepColumns(t *testing.T) {
	d := &stubDriver{}
	repo := NewUserRepository(newStubDB(t, d))

	require.NoError(t, repo.UpdateProfile(context.Background(), 7, "", "", "", ""))

	execs := d.Execs()
	require.Len(t, execs, 1)
	for _, column := range []string{"username", "first_name", "last_name", "locale"} {
		assert.True(t, strings.Contains(execs[0].query, fmt.Sprintf("%s = COALESCE(NULLIF(?, ''), %s)", column, column)),
			"column %s must fall back to its stored value", column)
	}
}
