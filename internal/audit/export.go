package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"id", "at", "actor_id", "action", "entity", "entity_id", "meta"}

// WriteCSV streams rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return fmt.Errorf("audit: encode meta of entry %d: %w", row.ID, err)
			}
			meta = string(raw)
		}
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
			meta,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
