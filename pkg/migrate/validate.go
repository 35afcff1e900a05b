package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// coreTables is the schema the rest of the service assumes exists: the order
// aggregate, its audit trail, and the two ingest bookkeeping tables.
var coreTables = []string{
	"orders",
	"order_items",
	"order_status_logs",
	"ingest_ledger_entries",
	"dead_letter_messages",
}

// ValidateDir checks every migration in dir for a sortable version prefix,
// a sanitized name, a unique version, and both goose direction markers. It
// makes no assumption about what the migrations contain, so it also works on
// a freshly scaffolded file from CreateSQLMigration.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[string]string{} // version -> filename
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read file %q: %w", name, err)
		}
		txt := string(b)
		if !strings.Contains(txt, "-- +goose Up") {
			return fmt.Errorf("migration %q missing \"-- +goose Up\"", name)
		}
		if !strings.Contains(txt, "-- +goose Down") {
			return fmt.Errorf("migration %q missing \"-- +goose Down\"", name)
		}
	}
	return nil
}

// ValidateBaseline verifies that the migrations in dir create every core
// table. It guards against a trimmed checkout or a botched squash shipping a
// schema the ingest pipeline cannot run on.
func ValidateBaseline(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var all strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read file %q: %w", e.Name(), err)
		}
		all.WriteString(strings.ToLower(string(b)))
	}

	combined := all.String()
	for _, table := range coreTables {
		if !createTableRe(table).MatchString(combined) {
			return fmt.Errorf("no migration creates table %q", table)
		}
	}
	return nil
}

func createTableRe(table string) *regexp.Regexp {
	return regexp.MustCompile(`create\s+table\s+(if\s+not\s+exists\s+)?` + regexp.QuoteMeta(table) + `\b`)
}
