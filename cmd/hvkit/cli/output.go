// Copyright 2026 The hvkit Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

// highlightStyle is the chroma style used for JSON output on color
// terminals.
const highlightStyle = "monokai"

// columnGap is the number of spaces between table columns.
const columnGap = 3

// WriteJSON marshals value as indented JSON and writes it to w. When w
// is a color terminal the output is syntax highlighted; otherwise it is
// written verbatim so pipes and files receive plain JSON.
//
// Nil slices are normalized to empty slices, so callers never emit null
// for an empty list.
func WriteJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(normalizeNilSlice(value), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	data = append(data, '\n')

	formatter := chromaFormatter(lipgloss.NewRenderer(w).ColorProfile())
	if formatter == "" {
		_, err = w.Write(data)
		return err
	}

	var buffer bytes.Buffer
	if err := quick.Highlight(&buffer, string(data), "json", formatter, highlightStyle); err != nil {
		_, err = w.Write(data)
		return err
	}
	_, err = buffer.WriteTo(w)
	return err
}

// chromaFormatter maps a terminal color profile to the chroma formatter
// that produces escapes the terminal understands. Returns "" for
// destinations without color support.
func chromaFormatter(profile termenv.Profile) string {
	switch profile {
	case termenv.TrueColor:
		return "terminal16m"
	case termenv.ANSI256:
		return "terminal256"
	case termenv.ANSI:
		return "terminal"
	default:
		return ""
	}
}

// WriteTable writes rows as left-aligned columns under a header row.
// The header is rendered bold when w is a terminal. Rows shorter than
// the header are padded with empty cells. Column widths count display
// cells, so wide runes and embedded styling line up.
func WriteTable(w io.Writer, headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	for column, header := range headers {
		widths[column] = ansi.StringWidth(header)
	}
	for _, row := range rows {
		for column := 0; column < len(row) && column < len(widths); column++ {
			widths[column] = max(widths[column], ansi.StringWidth(row[column]))
		}
	}

	headerStyle := lipgloss.NewRenderer(w).NewStyle().Bold(true)
	if _, err := fmt.Fprintln(w, headerStyle.Render(formatRow(headers, widths))); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, formatRow(row, widths)); err != nil {
			return err
		}
	}
	return nil
}

func formatRow(cells []string, widths []int) string {
	var line strings.Builder
	for column, width := range widths {
		cell := ""
		if column < len(cells) {
			cell = cells[column]
		}
		if column == len(widths)-1 {
			line.WriteString(cell)
			break
		}
		line.WriteString(cell)
		line.WriteString(strings.Repeat(" ", width-ansi.StringWidth(cell)+columnGap))
	}
	return line.String()
}

// normalizeNilSlice returns an empty slice of the same type if value
// is a nil slice, so that JSON serialization produces [] instead of
// null. Returns value unchanged for all other types.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
