package repos

import (
	"context"
	"fmt"
	"strings"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
)

// Migrate creates the event tables declared in schema plus the two conflict
// tables. Every statement is idempotent.
func Migrate(ctx context.Context, d *db.DB) error {
	return d.ExecAll(ctx, migrationStatements())
}

func migrationStatements() []string {
	var stmts []string
	for _, t := range schema.Tables() {
		stmts = append(stmts, eventTableDDL(t))
		stmts = append(stmts,
			fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_client_uuid ON %s (baby_id, client_uuid)`, t.Name, t.Name),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_baby_happened ON %s (baby_id, happened_at)`, t.Name, t.Name),
		)
	}
	stmts = append(stmts, `
CREATE TABLE IF NOT EXISTS event_conflicts (
	id TEXT PRIMARY KEY,
	baby_id TEXT NOT NULL,
	event_table TEXT NOT NULL,
	event_a_id TEXT NOT NULL,
	event_b_id TEXT NOT NULL,
	pair_key TEXT NOT NULL,
	event_a_snapshot TEXT NOT NULL,
	event_b_snapshot TEXT NOT NULL,
	event_a_happened_at BIGINT NOT NULL,
	event_b_happened_at BIGINT NOT NULL,
	event_a_logged_by TEXT NOT NULL,
	event_b_logged_by TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	resolved_at BIGINT,
	resolved_by TEXT
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_conflicts_pair ON event_conflicts (event_table, pair_key)`,
		`CREATE INDEX IF NOT EXISTS idx_event_conflicts_baby_status ON event_conflicts (baby_id, status)`,
		`
CREATE TABLE IF NOT EXISTS mutation_conflicts (
	id TEXT PRIMARY KEY,
	baby_id TEXT NOT NULL,
	event_table TEXT NOT NULL,
	event_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	reported_by TEXT NOT NULL,
	expected_updated_at BIGINT NOT NULL,
	actual_updated_at BIGINT NOT NULL,
	attempted_patch TEXT NOT NULL,
	current_snapshot TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	resolved_at BIGINT,
	resolved_by TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_mutation_conflicts_baby_status ON mutation_conflicts (baby_id, status)`,
	)
	return stmts
}

func eventTableDDL(t schema.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nCREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	sb.WriteString("\tid TEXT PRIMARY KEY,\n")
	sb.WriteString("\tbaby_id TEXT NOT NULL,\n")
	sb.WriteString("\tlogged_by TEXT NOT NULL,\n")
	sb.WriteString("\tclient_uuid TEXT NOT NULL,\n")
	sb.WriteString("\thappened_at BIGINT NOT NULL,\n")
	sb.WriteString("\tupdated_at BIGINT NOT NULL,\n")
	sb.WriteString("\tcreated_at BIGINT NOT NULL")
	for _, f := range t.Fields {
		fmt.Fprintf(&sb, ",\n\t%s %s", f.Name, columnType(f.Kind))
	}
	sb.WriteString("\n)")
	return sb.String()
}

func columnType(k schema.Kind) string {
	if k == schema.Text {
		return "TEXT"
	}
	return "BIGINT"
}
