package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Northlight-Labs/keel/pkg/ledger"
)

var (
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrLedgerNotConfigured is returned when pack generation is invoked without a backing ledger.
	ErrLedgerNotConfigured = errors.New("audit: ledger not configured (fail-closed)")
)

// ExportRequest defines what to export. An empty AgentID selects the
// whole chain; zero times leave that side of the window open. The
// window is inclusive on both ends.
type ExportRequest struct {
	AgentID   string    `json:"agent_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter bundles ledger evidence for off-platform review.
type Exporter struct {
	ledger *ledger.Ledger
}

func NewExporter(led *ledger.Ledger) *Exporter {
	return &Exporter{ledger: led}
}

// GeneratePack creates a zip file containing the selected ledger
// entries and a manifest naming the chain head and its verification
// outcome, and returns the pack bytes with their sha256 checksum. The
// chain is verified in full even for scoped packs, so a reviewer sees
// tampering anywhere in the ledger, not just inside the window.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.ledger == nil {
		return nil, "", ErrLedgerNotConfigured
	}

	var (
		entries []ledger.Entry
		err     error
	)
	if req.AgentID != "" {
		entries, err = e.ledger.ByAgent(ctx, req.AgentID)
	} else {
		entries, err = e.ledger.All(ctx)
	}
	if err != nil {
		return nil, "", fmt.Errorf("audit: load entries: %w", err)
	}
	entries = filterWindow(entries, req.StartTime, req.EndTime)

	chainVerified := true
	chainNote := "verified"
	if err := e.ledger.Verify(ctx); err != nil {
		chainVerified = false
		chainNote = err.Error()
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"generated_at":   time.Now().UTC(),
		"entry_count":    len(entries),
		"chain_head":     e.ledger.Head(),
		"chain_length":   e.ledger.Length(),
		"chain_verified": chainVerified,
		"chain_note":     chainNote,
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	if req.AgentID != "" {
		manifest["agent_id"] = req.AgentID
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	scope := "full chain"
	if req.AgentID != "" {
		scope = "agent " + req.AgentID
	}
	_, _ = fmt.Fprintf(f, "keel ledger evidence pack (%s)\nGenerated at %s\n", scope, time.Now().UTC())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	checksum := hex.EncodeToString(hash[:])

	return zipBytes, checksum, nil
}

func filterWindow(entries []ledger.Entry, start, end time.Time) []ledger.Entry {
	if start.IsZero() && end.IsZero() {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !start.IsZero() && e.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && e.Timestamp.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}
