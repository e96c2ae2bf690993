package migrate

import (
	"context"
	"testing"

	"diario/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	for i := 0; i < 2; i++ {
		v, err := Migrate(ctx, conn)
		if err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
		if v != latest {
			t.Fatalf("run %d: version %d, want %d", i, v, latest)
		}
	}
	for _, table := range []string{"plannings", "daily_reports", "events"} {
		var name string
		if err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
