package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// FindingIntegrity marks a partition database that failed integrity_check.
const FindingIntegrity = "integrity"

// SQLiteMaintenance checks and optimizes the per-partition databases of the
// sqlite backend.
type SQLiteMaintenance struct {
	root     string
	vacuum   bool
	reporter Reporter
	logger   *log.Logger
}

// NewSQLiteMaintenance creates a task over every *.db file in root.
func NewSQLiteMaintenance(root string, vacuum bool, reporter Reporter, logger *log.Logger) *SQLiteMaintenance {
	if logger == nil {
		logger = log.Default()
	}
	return &SQLiteMaintenance{root: root, vacuum: vacuum, reporter: reporter, logger: logger}
}

// Name returns the task name
func (t *SQLiteMaintenance) Name() string { return "sqlite_maintenance" }

// Description returns the task description
func (t *SQLiteMaintenance) Description() string {
	return "Integrity check and ANALYZE of partition databases"
}

// Execute runs the task
func (t *SQLiteMaintenance) Execute(ctx context.Context) TaskResult {
	paths, err := filepath.Glob(filepath.Join(t.root, "*.db"))
	if err != nil {
		return TaskResult{Success: false, Message: "Failed to list databases", Error: err}
	}
	sort.Strings(paths)

	result := TaskResult{Success: true, Findings: make(map[string]int)}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return TaskResult{Success: false, Message: "Canceled", Error: err}
		}

		before := fileSize(path)
		ok, err := t.maintain(ctx, path)
		if err != nil {
			return TaskResult{Success: false, Message: fmt.Sprintf("Maintenance of %s failed", path), Error: err}
		}
		if !ok {
			result.Findings[FindingIntegrity]++
			t.logger.Printf("[DatabaseMaintenance] Integrity check failed: %s", path)
		}
		if reclaimed := before - fileSize(path); reclaimed > 0 {
			result.SpaceReclaimed += reclaimed
		}
	}

	if t.reporter != nil && result.Findings[FindingIntegrity] > 0 {
		t.reporter.AddAuditFindings(FindingIntegrity, result.Findings[FindingIntegrity])
	}
	result.Message = fmt.Sprintf("%d databases checked", len(paths))
	return result
}

func (t *SQLiteMaintenance) maintain(ctx context.Context, path string) (bool, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&check); err != nil {
		return false, fmt.Errorf("integrity_check: %w", err)
	}
	if check != "ok" {
		return false, nil
	}

	// ANALYZE updates the SQLite query planner statistics
	if _, err := db.ExecContext(ctx, "ANALYZE"); err != nil {
		return true, fmt.Errorf("analyze: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		t.logger.Printf("[DatabaseMaintenance] Warning: PRAGMA optimize failed: %v", err)
	}
	if t.vacuum {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return true, fmt.Errorf("vacuum: %w", err)
		}
	}
	return true, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
