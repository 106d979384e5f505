package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

type exportFunc func(w io.Writer, events []*AuditEvent) error

var exporters = map[ExportFormat]exportFunc{
	ExportFormatJSON:   writeJSON,
	ExportFormatNDJSON: writeNDJSON,
	ExportFormatCSV:    writeCSV,
}

// Export renders events in format
func Export(events []*AuditEvent, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := ExportTo(&buf, events, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportTo writes events to w in format
func ExportTo(w io.Writer, events []*AuditEvent, format ExportFormat) error {
	fn, ok := exporters[format]
	if !ok {
		return fmt.Errorf("unsupported export format: %s", format)
	}
	return fn(w, events)
}

// writeJSON writes one indented array; no events is "[]"
func writeJSON(w io.Writer, events []*AuditEvent) error {
	if events == nil {
		events = []*AuditEvent{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode events: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// writeNDJSON writes one event per line, the archive format
func writeNDJSON(w io.Writer, events []*AuditEvent) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event %d: %w", event.ID, err)
		}
	}
	return nil
}

var csvHeader = []string{
	"ID",
	"Timestamp",
	"EventType",
	"Status",
	"ActorID",
	"OrgID",
	"SiteID",
	"ResourceType",
	"ResourceID",
	"RequestID",
	"Method",
	"Path",
	"Message",
	"Before",
	"After",
}

// writeCSV flattens events into rows. Before and After hold the change
// state as compact JSON and are empty for events without changes.
func writeCSV(w io.Writer, events []*AuditEvent) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		before, after, err := changeColumns(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to encode changes of event %d: %w", event.ID, err)
		}
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			event.ActorID,
			event.OrgID,
			event.SiteID,
			string(event.ResourceType),
			event.ResourceID,
			event.RequestID,
			event.Method,
			event.Path,
			event.Message,
			before,
			after,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

func changeColumns(c *ChangeDetails) (string, string, error) {
	if c == nil {
		return "", "", nil
	}
	encode := func(m map[string]interface{}) (string, error) {
		if len(m) == 0 {
			return "", nil
		}
		data, err := json.Marshal(m)
		return string(data), err
	}
	before, err := encode(c.Before)
	if err != nil {
		return "", "", err
	}
	after, err := encode(c.After)
	return before, after, err
}
