package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Output is the document printed by `bosh --json`.
type Output struct {
	Tables []Table  `json:"Tables"`
	Blocks []string `json:"Blocks"`
	Lines  []string `json:"Lines"`
	Raw    []byte   `json:"-"`
}

// Table is one table from a structured bosh response.
type Table struct {
	Content string            `json:"Content"`
	Header  map[string]string `json:"Header"`
	Rows    []map[string]any  `json:"Rows"`
	Notes   []string          `json:"Notes"`
}

// Rows returns the rows of every table in order.
func (output *Output) Rows() []map[string]any {
	if output == nil {
		return nil
	}
	var rows []map[string]any
	for _, table := range output.Tables {
		rows = append(rows, table.Rows...)
	}
	return rows
}

// Values returns the non-empty values of column across all rows.
func (output *Output) Values(column string) []string {
	var values []string
	for _, row := range output.Rows() {
		value, found := row[column]
		if !found || value == nil {
			continue
		}
		text := fmt.Sprint(value)
		if text == "" {
			continue
		}
		values = append(values, text)
	}
	return values
}

func decodeOutput(raw []byte) (*Output, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty structured output")
	}
	var output Output
	if err := json.Unmarshal(trimmed, &output); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	if output.Tables == nil && output.Blocks == nil && output.Lines == nil {
		return nil, fmt.Errorf("structured output has no tables, blocks or lines")
	}
	output.Raw = append([]byte(nil), trimmed...)
	return &output, nil
}
