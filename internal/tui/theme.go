package tui

import (
	"github.com/gdamore/tcell/v2"
)

// Palette
var (
	Accent = tcell.NewRGBColor(0, 150, 136) // #009688

	SuccessGreen  = tcell.NewRGBColor(34, 197, 94)  // #22C55E
	ErrorRed      = tcell.NewRGBColor(239, 68, 68)  // #EF4444
	WarningYellow = tcell.NewRGBColor(234, 179, 8)  // #EAB308
	InfoBlue      = tcell.NewRGBColor(59, 130, 246) // #3B82F6

	LightGray = tcell.ColorLightGray
)

const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolArchive = "▣"
	SymbolBullet  = "•"
)

// StatusColor returns the colour used for a backup status.
func StatusColor(status string) tcell.Color {
	switch status {
	case "complete", "valid", "success":
		return SuccessGreen
	case "missing", "invalid", "failed":
		return ErrorRed
	case "incomplete", "warning":
		return WarningYellow
	case "archived", "running":
		return InfoBlue
	default:
		return LightGray
	}
}

// StatusSymbol returns the symbol shown next to a backup status.
func StatusSymbol(status string) string {
	switch status {
	case "complete", "valid", "success":
		return SymbolSuccess
	case "missing", "invalid", "failed":
		return SymbolError
	case "incomplete", "warning":
		return SymbolWarning
	case "archived":
		return SymbolArchive
	default:
		return SymbolBullet
	}
}
