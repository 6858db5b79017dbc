package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteRunReport persists one JSON audit record for a batch run into
// the reports directory and returns the file path.
func WriteRunReport(dir string, summary *RunSummary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}

	name := fmt.Sprintf("sync_report_%s.json", summary.StartedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}
