package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dupeguard/imagedb/storage"
)

// Audit finding kinds.
const (
	FindingMissingSidecar = "missing_sidecar"
	FindingOrphanSidecar  = "orphan_sidecar"
	FindingStaleTemp      = "stale_temp"
)

// DefaultTempAge is how old a temp file must be before it counts as stale.
const DefaultTempAge = time.Hour

// Finding is one problem found in a partition directory.
type Finding struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// StorageAudit inspects a file-backend storage root. Each subdirectory is a
// partition. An image without its sidecar makes the partition fail to load,
// so it is reported but never touched. Stale temp files are removed when
// Repair is set.
type StorageAudit struct {
	root     string
	tempAge  time.Duration
	repair   bool
	reporter Reporter
	logger   *log.Logger
	now      func() time.Time
}

// NewStorageAudit creates an audit of root. reporter may be nil.
func NewStorageAudit(root string, repair bool, reporter Reporter, logger *log.Logger) *StorageAudit {
	if logger == nil {
		logger = log.Default()
	}
	return &StorageAudit{
		root:     root,
		tempAge:  DefaultTempAge,
		repair:   repair,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

// Name returns the task name
func (a *StorageAudit) Name() string { return "storage_audit" }

// Description returns the task description
func (a *StorageAudit) Description() string {
	return fmt.Sprintf("Check image/sidecar pairs under %s", a.root)
}

// Scan walks every partition and returns the findings, sorted by path.
func (a *StorageAudit) Scan(ctx context.Context) ([]Finding, error) {
	parts, err := os.ReadDir(a.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var findings []Finding
	for _, part := range parts {
		if !part.IsDir() || strings.HasPrefix(part.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := a.scanPartition(filepath.Join(a.root, part.Name()))
		if err != nil {
			return nil, err
		}
		findings = append(findings, f...)
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Path < findings[j].Path })
	return findings, nil
}

func (a *StorageAudit) scanPartition(dir string) ([]Finding, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", dir, err)
	}

	primaries := make(map[string]bool)
	sidecars := make(map[string]bool)
	var findings []Finding

	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
		case storage.IsTempFile(name):
			info, err := e.Info()
			if err != nil {
				continue
			}
			if a.now().Sub(info.ModTime()) >= a.tempAge {
				findings = append(findings, Finding{Kind: FindingStaleTemp, Path: filepath.Join(dir, name)})
			}
		case strings.HasPrefix(name, "."):
		case storage.IsSidecar(name):
			sidecars[name] = true
		default:
			primaries[name] = true
		}
	}

	claimed := make(map[string]bool, len(primaries))
	for name := range primaries {
		sc := storage.SidecarName(name)
		claimed[sc] = true
		if !sidecars[sc] {
			findings = append(findings, Finding{Kind: FindingMissingSidecar, Path: filepath.Join(dir, name)})
		}
	}
	for sc := range sidecars {
		if !claimed[sc] {
			findings = append(findings, Finding{Kind: FindingOrphanSidecar, Path: filepath.Join(dir, sc)})
		}
	}
	return findings, nil
}

// Execute runs the audit and, with repair enabled, removes stale temp files.
func (a *StorageAudit) Execute(ctx context.Context) TaskResult {
	findings, err := a.Scan(ctx)
	if err != nil {
		return TaskResult{Success: false, Message: "Storage audit failed", Error: err}
	}

	result := TaskResult{Success: true, Findings: make(map[string]int)}
	for _, f := range findings {
		result.Findings[f.Kind]++
		a.logger.Printf("[StorageAudit] %s: %s", f.Kind, f.Path)

		if a.repair && f.Kind == FindingStaleTemp {
			if info, err := os.Stat(f.Path); err == nil {
				if err := os.Remove(f.Path); err != nil {
					a.logger.Printf("[StorageAudit] Failed to remove %s: %v", f.Path, err)
					continue
				}
				result.SpaceReclaimed += info.Size()
			}
		}
	}

	if a.reporter != nil {
		for kind, n := range result.Findings {
			a.reporter.AddAuditFindings(kind, n)
		}
	}

	result.Message = fmt.Sprintf("%d findings", len(findings))
	return result
}
