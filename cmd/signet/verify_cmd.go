package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Signet-Labs/signet/pkg/ledger"
	"github.com/Signet-Labs/signet/pkg/seal"
)

func engineVersion() string { return seal.EngineVersion }

// runVerifySeal implements `signet verify-seal`.
//
// Exit codes:
//
//	0 = artifact verified
//	1 = artifact invalid
//	2 = runtime error
func runVerifySeal(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-seal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file       string
		jsonOutput bool
	)
	cmd.StringVar(&file, "file", "", "Path to the sealed artifact (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the verification result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	sealed, err := os.ReadFile(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read artifact: %v\n", err)
		return 2
	}

	v, err := seal.VerifySealedDocument(sealed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
	} else {
		_, _ = fmt.Fprintf(stdout, "document hash:   %s\n", v.DocumentHash)
		_, _ = fmt.Fprintf(stdout, "hash matches:    %v\n", v.HashMatches)
		_, _ = fmt.Fprintf(stdout, "signature valid: %v\n", v.SignatureValid)
		_, _ = fmt.Fprintf(stdout, "engine version:  %s\n", v.EngineVersion)
		_, _ = fmt.Fprintf(stdout, "eidas level:     %s\n", v.Level)
		_, _ = fmt.Fprintf(stdout, "certificate:     %s\n", v.CertSubject)
		if v.Reason != "" {
			_, _ = fmt.Fprintf(stdout, "reason:          %s\n", v.Reason)
		}
	}
	if !v.Valid {
		return 1
	}
	return 0
}

// runVerifyChain implements `signet verify-chain` against a SQLite
// ledger database.
func runVerifyChain(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		envelopeID string
	)
	cmd.StringVar(&dbPath, "db", "signet-ledger.db", "Path to the audit ledger database")
	cmd.StringVar(&envelopeID, "envelope", "", "Envelope ID to verify (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if envelopeID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --envelope is required")
		return 2
	}

	store, err := ledger.NewSQLiteStore(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	auditLog := ledger.New(store)
	ctx := context.Background()

	events, err := auditLog.EventsForEnvelope(ctx, envelopeID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load events: %v\n", err)
		return 2
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintf(stderr, "Error: no events for envelope %s\n", envelopeID)
		return 2
	}

	if err := auditLog.VerifyChain(ctx, envelopeID); err != nil {
		_, _ = fmt.Fprintf(stderr, "chain verification FAILED: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "chain verified: %d events, head %s\n",
		len(events), events[len(events)-1].EventHash)
	return 0
}

// runExportTrail implements `signet export-trail`.
func runExportTrail(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export-trail", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dbPath     string
		envelopeID string
		format     string
	)
	cmd.StringVar(&dbPath, "db", "signet-ledger.db", "Path to the audit ledger database")
	cmd.StringVar(&envelopeID, "envelope", "", "Envelope ID to export (REQUIRED)")
	cmd.StringVar(&format, "format", "json", "Export format: json, csv or timeline")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if envelopeID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --envelope is required")
		return 2
	}

	store, err := ledger.NewSQLiteStore(dbPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open ledger: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	events, err := ledger.New(store).EventsForEnvelope(context.Background(), envelopeID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: load events: %v\n", err)
		return 2
	}

	switch format {
	case "json":
		out, err := ledger.ExportJSON(events)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = stdout.Write(out)
		_, _ = fmt.Fprintln(stdout)
	case "csv":
		out, err := ledger.ExportCSV(events)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, _ = stdout.Write(out)
	case "timeline":
		_, _ = fmt.Fprint(stdout, ledger.ExportTimeline(events))
	default:
		_, _ = fmt.Fprintf(stderr, "Error: unknown format %q\n", format)
		return 2
	}
	return 0
}
