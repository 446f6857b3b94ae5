package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	fdulog "github.com/fduhole/fdusdk/internal/log"
)

// writeReport writes the refresh report atomically. renameio fsyncs the
// temp file before the rename, so a crash never leaves a torn report.
func writeReport(ctx context.Context, dataDir string, report *Report) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "report.json")
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending report: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			fdulog.FromContext(ctx).Debug().Err(err).Msg("cleanup pending report")
		}
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}
	return nil
}
