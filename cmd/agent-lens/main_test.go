package main

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestInitColorProfile_EnvOverride(t *testing.T) {
	prev := lipgloss.ColorProfile()
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })

	tests := []struct {
		value string
		want  termenv.Profile
	}{
		{"none", termenv.Ascii},
		{"off", termenv.Ascii},
		{"16", termenv.ANSI},
		{"ansi", termenv.ANSI},
		{"256", termenv.ANSI256},
		{"truecolor", termenv.TrueColor},
		{"24bit", termenv.TrueColor},
		{"TRUECOLOR", termenv.TrueColor},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("AGENTLENS_COLOR", tt.value)
			initColorProfile()
			if got := lipgloss.ColorProfile(); got != tt.want {
				t.Errorf("AGENTLENS_COLOR=%s: profile = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
