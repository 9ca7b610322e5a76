package tracking

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// exportColumns fixes the CSV column order; map iteration would shuffle it
// between exports.
var exportColumns = []string{
	"id",
	"timestamp",
	"provider",
	"model",
	"chat_input",
	"chat_output",
	"input_tokens",
	"output_tokens",
	"total_tokens",
	"cost",
	"latency",
	"time_to_first_token",
	"inter_token_latency",
	"tokens_per_second",
	"parameters",
	"created_at",
}

// WriteCSV renders logs as semicolon-delimited CSV with JSON-encoded cells,
// so free-text fields containing delimiters or newlines survive a round trip.
func WriteCSV(w io.Writer, logs []*Log) error {
	if len(logs) == 0 {
		return nil
	}

	if _, err := io.WriteString(w, strings.Join(exportColumns, ";")+"\n"); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, log := range logs {
		record, err := logRecord(log)
		if err != nil {
			return err
		}
		cells := make([]string, 0, len(exportColumns))
		for _, column := range exportColumns {
			encoded, err := json.Marshal(record[column])
			if err != nil {
				return fmt.Errorf("encode csv cell %q: %w", column, err)
			}
			cells = append(cells, string(encoded))
		}
		if _, err := io.WriteString(w, strings.Join(cells, ";")+"\n"); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	return nil
}

// WriteJSONL renders logs as one JSON object per line.
func WriteJSONL(w io.Writer, logs []*Log) error {
	encoder := json.NewEncoder(w)
	for _, log := range logs {
		if log == nil {
			continue
		}
		if err := encoder.Encode(log); err != nil {
			return fmt.Errorf("encode chat log %q: %w", log.ID, err)
		}
	}
	return nil
}

func logRecord(log *Log) (map[string]any, error) {
	encoded, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("encode chat log %q: %w", log.ID, err)
	}
	var record map[string]any
	if err := json.Unmarshal(encoded, &record); err != nil {
		return nil, fmt.Errorf("decode chat log %q: %w", log.ID, err)
	}
	return record, nil
}
