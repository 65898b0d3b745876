package ledger

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// ExportJSON renders events with full fidelity.
func ExportJSON(events []*contracts.AuditEvent) ([]byte, error) {
	out, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ledger: export json: %w", err)
	}
	return out, nil
}

var csvHeader = []string{
	"id", "envelope_id", "signer_id", "event_type", "event_data",
	"ip_address", "geolocation", "event_hash", "previous_hash", "created_at",
}

// ExportCSV renders events as RFC 4180 CSV: values containing commas,
// quotes or newlines are quoted with internal quotes doubled.
func ExportCSV(events []*contracts.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("ledger: export csv: %w", err)
	}
	for _, ev := range events {
		data := ""
		if ev.EventData != nil {
			b, err := json.Marshal(ev.EventData)
			if err != nil {
				return nil, fmt.Errorf("ledger: export csv event data: %w", err)
			}
			data = string(b)
		}
		record := []string{
			ev.ID, ev.EnvelopeID, ev.SignerID, string(ev.EventType), data,
			ev.IPAddress, ev.Geolocation, ev.EventHash, ev.PreviousHash,
			ev.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("ledger: export csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("ledger: export csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportTimeline renders a human-readable chronology of an envelope's
// evidence chain.
func ExportTimeline(events []*contracts.AuditEvent) string {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(ev.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		b.WriteString("  ")
		b.WriteString(string(ev.EventType))
		if ev.SignerID != "" {
			fmt.Fprintf(&b, " (signer %s)", ev.SignerID)
		}
		if ev.Geolocation != "" {
			fmt.Fprintf(&b, " from %s", ev.Geolocation)
		} else if ev.IPAddress != "" {
			fmt.Fprintf(&b, " from %s", ev.IPAddress)
		}
		b.WriteString("\n")
	}
	return b.String()
}
