package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tuborlabs/tyield/internal/protocol"
)

// JSONReport is the machine-readable export of a trade snapshot.
type JSONReport struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     Summary          `json:"summary"`
	Trades      []protocol.Trade `json:"trades"`
}

// WriteTradesJSON writes the trade list and summary to path as JSON.
func WriteTradesJSON(trades []protocol.Trade, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	report := JSONReport{
		GeneratedAt: time.Now(),
		Summary:     Summarize(trades),
		Trades:      trades,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
