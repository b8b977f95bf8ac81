package testutil

import (
	"context"
	"database/sql"
	"strings"
	"sync"
)

// RecordingExecer records every statement and can fail selected ones.
// It satisfies the warehouse Execer interface.
type RecordingExecer struct {
	mu         sync.Mutex
	statements []string
	// FailWhen returns a non-nil error to make a statement fail
	FailWhen func(query string) error
	// Panic makes every call panic with this value when non-nil
	Panic interface{}
	closed int
}

// ExecContext records query and applies FailWhen
func (r *RecordingExecer) ExecContext(ctx context.Context, query string, _ ...interface{}) (sql.Result, error) {
	if r.Panic != nil {
		panic(r.Panic)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.statements = append(r.statements, query)
	fail := r.FailWhen
	r.mu.Unlock()

	if fail != nil {
		if err := fail(query); err != nil {
			return nil, err
		}
	}
	return driverResult(1), nil
}

// Close counts closes
func (r *RecordingExecer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// Closed returns how many times Close was called
func (r *RecordingExecer) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Statements returns a copy of every recorded statement
func (r *RecordingExecer) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

// Matching returns the recorded statements starting with prefix and
// containing every fragment
func (r *RecordingExecer) Matching(prefix string, fragments ...string) []string {
	var out []string
	for _, s := range r.Statements() {
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		ok := true
		for _, f := range fragments {
			if !strings.Contains(s, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded statements
func (r *RecordingExecer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}

type driverResult int64

func (d driverResult) LastInsertId() (int64, error) { return 0, nil }
func (d driverResult) RowsAffected() (int64, error) { return int64(d), nil }
