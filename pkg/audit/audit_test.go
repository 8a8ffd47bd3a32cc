package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/forge-hooks/pkg/logging"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func entryAt(at time.Time, verdict string, hooks ...HookRecord) Entry {
	return Entry{
		DispatchID: "d-" + at.Format("150405"),
		Time:       at,
		Event:      "PreToolUse",
		ToolName:   "Bash",
		SessionID:  "s1",
		Verdict:    verdict,
		Hooks:      hooks,
	}
}

func TestSQLiteRecordAndTail(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, r.Record(ctx, entryAt(base, "allow",
		HookRecord{Hook: "sandbox_boundary_guard", Category: "shield", Kind: "verdict", Verdict: "allow", DurationMS: 3})))
	require.NoError(t, r.Record(ctx, entryAt(base.Add(time.Minute), "deny",
		HookRecord{Hook: "git_hygiene_enforcer", Category: "shield", Kind: "verdict", Verdict: "deny", Reason: "push to main", DurationMS: 5})))
	require.NoError(t, r.Record(ctx, entryAt(base.Add(2*time.Minute), "deny",
		HookRecord{Hook: "sandbox_boundary_guard", Category: "shield", Kind: "verdict", Verdict: "allow"},
		HookRecord{Hook: "broken", Category: "foreman", Kind: "fault", Verdict: "deny", Fault: "timed out after 1s"})))

	all, err := r.Tail(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, base.Add(2*time.Minute).Equal(all[0].Time), "newest first, got %s", all[0].Time)
	assert.NotEmpty(t, all[0].ID)
	require.Len(t, all[0].Hooks, 2)
	assert.Equal(t, "broken", all[0].Hooks[1].Hook)
	assert.Equal(t, "timed out after 1s", all[0].Hooks[1].Fault)
	assert.Equal(t, "push to main", all[1].Hooks[0].Reason)

	limited, err := r.Tail(ctx, 1, false)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	faults, err := r.Tail(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.True(t, faults[0].HasFault())
}

func TestSQLiteTailOrdersBySubSecondTime(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)

	older := entryAt(base, "allow")
	older.Reason = "older"
	newer := entryAt(base.Add(500*time.Millisecond), "allow")
	newer.Reason = "newer"
	require.NoError(t, r.Record(ctx, newer))
	require.NoError(t, r.Record(ctx, older))

	got, err := r.Tail(ctx, 1, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].Reason)
	assert.True(t, newer.Time.Equal(got[0].Time), "got %s", got[0].Time)
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	r, err := NewSQLiteRecorder(path)
	require.NoError(t, err)
	require.NoError(t, r.Record(context.Background(), entryAt(time.Now(), "warn")))
	require.NoError(t, r.Close())

	r, err = NewSQLiteRecorder(path)
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Tail(context.Background(), 5, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := LogRecorder{Logger: logging.NewWithWriter("audit", &buf)}
	e := entryAt(time.Now(), "warn", HookRecord{Hook: "pii_redactor", Verdict: "warn"})

	require.NoError(t, rec.Record(context.Background(), e))
	out := buf.String()
	assert.True(t, strings.Contains(out, "verdict=warn"), out)
	assert.True(t, strings.Contains(out, "pii_redactor=warn"), out)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Record(context.Background(), Entry{}))
}
