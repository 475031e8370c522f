package services

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractTables finds every HTML <table> element in a page's content and
// normalizes each to a markdown pipe table, in document order.
func extractTables(pageContent string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	var tables []string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		if md := tableToMarkdown(table); md != "" {
			tables = append(tables, md)
		}
	})
	return tables, nil
}

// tableToMarkdown renders one table as a pipe table. The first row becomes
// the header; short rows are padded so every row has the same column count.
func tableToMarkdown(table *goquery.Selection) string {
	var rows [][]string
	columns := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.Join(strings.Fields(cell.Text()), " ")
			cells = append(cells, strings.ReplaceAll(text, "|", "\\|"))
		})
		if len(cells) == 0 {
			return
		}
		if len(cells) > columns {
			columns = len(cells)
		}
		rows = append(rows, cells)
	})
	if len(rows) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, row := range rows {
		for len(row) < columns {
			row = append(row, "")
		}
		sb.WriteString("| ")
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString(" |\n")
		if i == 0 {
			sb.WriteString(strings.Repeat("| --- ", columns))
			sb.WriteString("|\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
