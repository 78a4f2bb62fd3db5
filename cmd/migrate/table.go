package main

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"soundmint.org/internal/migrate"
)

var statusHeaders = []string{"#", "Migration", "Applied At"}

func statusRows(history []migrate.Record) [][]string {
	rows := make([][]string, 0, len(history))
	for i, rec := range history {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			rec.Name,
			rec.AppliedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func renderTable(rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(statusHeaders))
	for i, h := range statusHeaders {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(statusHeaders))
		for i := range statusHeaders {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
