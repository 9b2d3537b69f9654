package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// renderInterval is how often the live progress table refreshes.
const renderInterval = 500 * time.Millisecond

// startRenderer samples the statistics twice per second and re-renders
// a progress table until stop is closed. A nil writer disables
// rendering.
func startRenderer(w io.Writer, stats *Statistics, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	if w == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(renderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				renderTable(w, stats.Snapshot())
			case <-stop:
				renderTable(w, stats.Snapshot())
				return
			}
		}
	}()
	return done
}

func renderTable(w io.Writer, snap Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Processed", "Extracted", "Relevant", "Stored", "Duplicates", "Skipped", "Errors", "Elapsed"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%d/%d", snap.Processed, snap.Total),
		snap.Extracted,
		snap.Relevant,
		snap.Stored,
		snap.Duplicates,
		snap.SkippedExisting,
		snap.TotalErrors(),
		time.Since(snap.StartTime).Round(time.Second),
	})
	t.Render()
}
