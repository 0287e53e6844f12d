package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hitoshi/usermigrator/internal/worker/importer"
)

// writeSummary は一括移行の集計結果をインデント付きJSONで書き込む。
func writeSummary(w io.Writer, summary importer.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to write import summary: %w", err)
	}
	return nil
}
