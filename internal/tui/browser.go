package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/backupguard/internal/backup"
	"github.com/tis24dev/backupguard/internal/orchestrator"
	"github.com/tis24dev/backupguard/internal/types"
	"github.com/tis24dev/backupguard/pkg/utils"
)

const timeLayout = "2006-01-02 15:04:05"

// VerifyFunc verifies both halves of an integrated backup.
type VerifyFunc func(ctx context.Context, backupID string) (*orchestrator.IntegratedVerifyResult, error)

// Browser shows paired backups in a table with a detail pane. Enter (or
// moving the cursor) shows details, v verifies the selected backup and q
// quits.
type Browser struct {
	app     *App
	ctx     context.Context
	pairs   []orchestrator.PairedBackup
	verify  VerifyFunc
	table   *tview.Table
	details *tview.TextView
	layout  *tview.Flex
}

// NewBrowser builds the browser for listing. verify may be nil.
func NewBrowser(ctx context.Context, app *App, listing *orchestrator.IntegratedListing, verify VerifyFunc) *Browser {
	b := &Browser{
		app:     app,
		ctx:     ctx,
		verify:  verify,
		table:   tview.NewTable().SetSelectable(true, false).SetFixed(1, 0),
		details: tview.NewTextView().SetDynamicColors(true).SetWrap(true),
	}
	if listing != nil {
		b.pairs = listing.Paired
	}

	b.table.SetBorder(true).SetTitle(fmt.Sprintf(" Backups (%d) ", len(b.pairs)))
	b.details.SetBorder(true).SetTitle(" Details ")
	b.fillTable()

	b.table.SetSelectionChangedFunc(func(row, _ int) { b.showDetails(row) })
	b.table.SetSelectedFunc(func(row, _ int) { b.showDetails(row) })
	b.table.SetInputCapture(b.handleKey)

	help := tview.NewTextView().SetDynamicColors(true).
		SetText("[yellow]↑↓[white] select  [yellow]v[white] verify  [yellow]q[white] quit")

	b.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(b.table, 0, 3, true).
		AddItem(b.details, 0, 2, false).
		AddItem(help, 1, 0, false)

	if len(b.pairs) > 0 {
		b.table.Select(1, 0)
		b.showDetails(1)
	} else {
		b.details.SetText("No backups found.")
	}
	return b
}

// Root returns the top-level primitive.
func (b *Browser) Root() tview.Primitive { return b.layout }

// Run shows the browser until the user quits.
func (b *Browser) Run() error {
	return b.app.SetRoot(b.layout, true).SetFocus(b.table).Run()
}

func (b *Browser) fillTable() {
	headers := []string{"Backup", "Created", envLabel(types.EnvLocal), envLabel(types.EnvRemote), "Status"}
	for col, h := range headers {
		b.table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(Accent).
			SetAttributes(tcell.AttrBold).
			SetSelectable(false))
	}
	for i, p := range b.pairs {
		row := i + 1
		status := pairStatus(p)
		b.table.SetCell(row, 0, tview.NewTableCell(p.BackupID))
		b.table.SetCell(row, 1, tview.NewTableCell(p.CreatedAt().Local().Format(timeLayout)))
		b.table.SetCell(row, 2, sideCell(p.LocalBackup))
		b.table.SetCell(row, 3, sideCell(p.RemoteBackup))
		b.table.SetCell(row, 4, tview.NewTableCell(StatusSymbol(status)+" "+status).
			SetTextColor(StatusColor(status)))
	}
}

func sideCell(info *backup.BackupInfo) *tview.TableCell {
	if info == nil {
		return tview.NewTableCell(SymbolError + " missing").SetTextColor(StatusColor("missing"))
	}
	text := fmt.Sprintf("%d files, %s", info.FileCount, utils.FormatBytes(info.TotalSize))
	if info.State == backup.StateArchived {
		return tview.NewTableCell(SymbolArchive + " " + text).SetTextColor(StatusColor("archived"))
	}
	return tview.NewTableCell(text)
}

func pairStatus(p orchestrator.PairedBackup) string {
	if p.Complete {
		return "complete"
	}
	return "incomplete"
}

func envLabel(env types.Environment) string {
	return cases.Title(language.English).String(env.String())
}

// selected returns the pair under the cursor.
func (b *Browser) selected() (orchestrator.PairedBackup, bool) {
	row, _ := b.table.GetSelection()
	if row < 1 || row > len(b.pairs) {
		return orchestrator.PairedBackup{}, false
	}
	return b.pairs[row-1], true
}

func (b *Browser) showDetails(row int) {
	if row < 1 || row > len(b.pairs) {
		return
	}
	b.details.SetText(describePair(b.pairs[row-1]))
}

// DetailsText returns what the detail pane currently shows.
func (b *Browser) DetailsText() string {
	return b.details.GetText(false)
}

func describePair(p orchestrator.PairedBackup) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[::b]%s[::-]  %s\n", p.BackupID, pairStatus(p))
	for _, side := range []struct {
		env  types.Environment
		info *backup.BackupInfo
	}{{types.EnvLocal, p.LocalBackup}, {types.EnvRemote, p.RemoteBackup}} {
		if side.info == nil {
			fmt.Fprintf(&sb, "%s: not present\n", envLabel(side.env))
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n  id %s, %s\n  %s\n",
			envLabel(side.env),
			side.info.Description,
			side.info.BackupID,
			side.info.CreatedAt.Local().Format(timeLayout),
			side.info.BackupPath)
	}
	return sb.String()
}

func (b *Browser) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
		b.app.Stop()
		return nil
	case event.Rune() == 'v':
		p, ok := b.selected()
		if !ok || b.verify == nil {
			return nil
		}
		b.details.SetText(fmt.Sprintf("Verifying %s...", p.BackupID))
		go func() {
			text := b.verifyText(p.BackupID)
			b.app.QueueUpdateDraw(func() { b.details.SetText(text) })
		}()
		return nil
	}
	return event
}

// verifyText runs the verification for backupID and renders the outcome.
func (b *Browser) verifyText(backupID string) string {
	res, err := b.verify(b.ctx, backupID)
	if err != nil {
		return fmt.Sprintf("[red]%s verification failed:[white] %v", SymbolError, tview.Escape(err.Error()))
	}
	var sb strings.Builder
	status := "valid"
	if !res.Overall.Valid {
		status = "invalid"
	}
	fmt.Fprintf(&sb, "%s %s: %s, %d files checked, %d errors\n",
		StatusSymbol(status), backupID, status, res.Overall.TotalCheckedFiles, res.Overall.TotalErrors)
	for _, side := range []struct {
		env types.Environment
		res backup.VerifyResult
	}{{types.EnvLocal, res.Local}, {types.EnvRemote, res.Remote}} {
		for _, e := range side.res.Errors {
			fmt.Fprintf(&sb, "  %s: %s\n", envLabel(side.env), tview.Escape(e))
		}
	}
	return sb.String()
}
