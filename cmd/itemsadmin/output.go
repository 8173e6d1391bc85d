package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nkiryanov/itemsadmin/internal/models"
)

var (
	muted = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderItems(items []models.Item) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(muted)).
		Headers("ID", "NAME", "DESCRIPTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, item := range items {
		t.Row(item.ID.String(), item.Name, item.Description)
	}

	return t.Render()
}

func printItems(w io.Writer, items []models.Item, asJSON bool) error {
	if asJSON {
		if items == nil {
			items = []models.Item{}
		}
		return printJSON(w, items)
	}

	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No items")
		return err
	}
	_, err := fmt.Fprintln(w, renderItems(items))
	return err
}
