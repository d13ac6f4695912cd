package sqlite

import (
	"strings"
	"testing"
)

func TestApplyPragmas(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			name: "plain file",
			dsn:  "profiles.db",
			want: "profiles.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		{
			name: "existing query string",
			dsn:  "file:profiles.db?mode=rwc",
			want: "file:profiles.db?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		{
			name: "caller pragmas win",
			dsn:  "file:profiles.db?_pragma=journal_mode(DELETE)",
			want: "file:profiles.db?_pragma=journal_mode(DELETE)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyPragmas(tt.dsn); got != tt.want {
				t.Fatalf("applyPragmas(%q)=%q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	ddl := buildCreateSQL()
	if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS profiles") {
		t.Fatalf("DDL missing CREATE TABLE IF NOT EXISTS: %q", ddl)
	}
	if !strings.Contains(ddl, "id INTEGER PRIMARY KEY AUTOINCREMENT") {
		t.Fatalf("DDL missing autoincrement primary key: %q", ddl)
	}
	// Millisecond timestamps live in INTEGER columns; only data_timestamp
	// may be NULL.
	for _, col := range []string{"session_timestamp INTEGER NOT NULL", "data_timestamp INTEGER,", "created_at INTEGER NOT NULL"} {
		if !strings.Contains(ddl, col) {
			t.Fatalf("DDL missing %q: %q", col, ddl)
		}
	}
	if !strings.Contains(ddl, "envelope BLOB NOT NULL") {
		t.Fatalf("DDL missing envelope blob: %q", ddl)
	}

	idx := buildIndexSQL()
	if !strings.Contains(idx, "CREATE INDEX IF NOT EXISTS") || !strings.Contains(idx, "(name)") {
		t.Fatalf("index DDL unexpected: %q", idx)
	}
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q := buildInsertSQL()
	if got := strings.Count(q, "?"); got != 7 {
		t.Fatalf("insert SQL has %d placeholders, want 7: %q", got, q)
	}
	if !strings.Contains(q, "(name, session_id, session_timestamp, data_timestamp, row_count, envelope, created_at)") {
		t.Fatalf("insert SQL column list unexpected: %q", q)
	}
}

func TestBuildListSQL(t *testing.T) {
	t.Parallel()

	q, args := buildListSQL("")
	if strings.Contains(q, "WHERE") || len(args) != 0 {
		t.Fatalf("unfiltered list SQL should have no WHERE clause: %q args=%v", q, args)
	}
	if !strings.Contains(q, "ORDER BY created_at DESC, id DESC") {
		t.Fatalf("list SQL missing newest-first ordering: %q", q)
	}

	q, args = buildListSQL("orders")
	if !strings.Contains(q, "WHERE name = ?") {
		t.Fatalf("filtered list SQL missing name filter: %q", q)
	}
	if len(args) != 1 || args[0] != "orders" {
		t.Fatalf("filtered list args=%v, want [orders]", args)
	}
}
