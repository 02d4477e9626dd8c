// Package ops implements a termui status dashboard for the running
// RuntimeManager: a live table of mosaics and their lifecycle status,
// refreshed on a short tick and on keypress.
package ops

import (
	"context"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/google/uuid"

	"github.com/mosaic-run/meshrt/internal/domain/routing"
	"github.com/mosaic-run/meshrt/internal/runtime/manager"
)

// StatusSource is the subset of Manager the dashboard reads from.
type StatusSource interface {
	GetMosaicStatus(mosaicID uuid.UUID) routing.MosaicStatus
}

var _ StatusSource = (*manager.Manager)(nil)

// Dashboard renders a live table of mosaic statuses until ctx is cancelled
// or the user presses q / Ctrl-C.
type Dashboard struct {
	src     StatusSource
	mosaics []uuid.UUID
}

// New builds a Dashboard over the given set of mosaic ids.
func New(src StatusSource, mosaics []uuid.UUID) *Dashboard {
	return &Dashboard{src: src, mosaics: mosaics}
}

// Run initializes the terminal UI and blocks until ctx is done or the user
// quits.
func (d *Dashboard) Run(ctx context.Context) error {
	if err := ui.Init(); err != nil {
		return err
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = "meshrt runtime"
	table.Rows = d.rows()
	table.SetRect(0, 0, 60, 4+len(d.mosaics))
	table.TextStyle = ui.NewStyle(ui.ColorWhite)
	table.RowSeparator = false

	ui.Render(table)

	uiEvents := ui.PollEvents()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
			if e.Type == ui.KeyboardEvent {
				table.Rows = d.rows()
				ui.Render(table)
			}
		case <-ticker.C:
			table.Rows = d.rows()
			ui.Render(table)
		}
	}
}

func (d *Dashboard) rows() [][]string {
	rows := [][]string{{"mosaic", "status"}}
	for _, id := range d.mosaics {
		rows = append(rows, []string{id.String(), string(d.src.GetMosaicStatus(id))})
	}
	return rows
}
