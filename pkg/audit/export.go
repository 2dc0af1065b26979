package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// Export renders logs in format
func Export(logs []*Log, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(logs)
	case ExportFormatNDJSON:
		return exportNDJSON(logs)
	case ExportFormatJSON:
		return exportJSON(logs)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// exportJSON exports audit logs as a JSON array
func exportJSON(logs []*Log) ([]byte, error) {
	return json.MarshalIndent(logs, "", "  ")
}

// exportNDJSON exports audit logs as newline-delimited JSON
func exportNDJSON(logs []*Log) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, l := range logs {
		if err := encoder.Encode(l); err != nil {
			return nil, fmt.Errorf("failed to encode audit log: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit logs as CSV
func exportCSV(logs []*Log) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"id",
		"timestamp",
		"action",
		"resource",
		"resource_id",
		"user_id",
		"user_email",
		"ip_address",
		"user_agent",
		"success",
		"error_message",
		"details",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, l := range logs {
		details, err := json.Marshal(l.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details: %w", err)
		}
		row := []string{
			strconv.FormatInt(l.ID, 10),
			l.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			string(l.Action),
			string(l.Resource),
			deref(l.ResourceID),
			formatInt64Ptr(l.UserID),
			deref(l.UserEmail),
			deref(l.IPAddress),
			deref(l.UserAgent),
			strconv.FormatBool(l.Success),
			deref(l.ErrorMessage),
			string(details),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// formatInt64Ptr formats an int64 pointer as string, returning empty string for nil
func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
