// Package ui styles CLI output with a small [lipgloss] palette.
package ui
