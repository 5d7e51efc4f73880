package tui

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
)

func TestStatusColorAndSymbol(t *testing.T) {
	tests := []struct {
		status string
		color  tcell.Color
		symbol string
	}{
		{"complete", SuccessGreen, SymbolSuccess},
		{"invalid", ErrorRed, SymbolError},
		{"incomplete", WarningYellow, SymbolWarning},
		{"archived", InfoBlue, SymbolArchive},
		{"unknown", LightGray, SymbolBullet},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.color, StatusColor(tt.status), tt.status)
		assert.Equal(t, tt.symbol, StatusSymbol(tt.status), tt.status)
	}
}
