package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws a rounded table. Short rows are padded; footer is
// omitted when nil.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment, footer []string) string {
	if len(headers) == 0 {
		return ""
	}
	toRow := func(values []string) table.Row {
		row := make(table.Row, len(headers))
		for i := range row {
			row[i] = ""
			if i < len(values) {
				row[i] = values[i]
			}
		}
		return row
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers))
	for _, values := range rows {
		tw.AppendRow(toRow(values))
	}
	if footer != nil {
		tw.AppendFooter(toRow(footer))
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range configs {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
