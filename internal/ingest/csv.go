// Package ingest loads transfer CSV files into the graph store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Accepted header names per column, lower-cased. The PaySim names are
// included so raw PaySim exports load without renaming.
var columnAliases = map[string][]string{
	"id":          {"id", "transfer_id"},
	"source":      {"source_id", "nameorig", "sender_id", "sender"},
	"destination": {"destination_id", "namedest", "receiver_id", "receiver"},
	"amount":      {"amount"},
	"step":        {"step"},
	"type":        {"type"},
	"label":       {"fraud_label", "isfraud", "is_fraud", "ground_truth_fraud"},
}

// Stats summarises a parsed file.
type Stats struct {
	Rows          int `json:"rows"`
	Accounts      int `json:"accounts"`
	Fraud         int `json:"fraud"`
	MissingLabels int `json:"missingLabels"`
	CoercedLabels int `json:"coercedLabels"`
}

// Batch is a parsed file ready to load.
type Batch struct {
	Accounts  []string
	Transfers []domain.TransferRecord
	Stats     Stats
}

// ReadCSV parses a transfer file. Rows missing amount or step abort the
// read; missing labels load as not-fraud.
func ReadCSV(r io.Reader, logger *slog.Logger) (*Batch, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", domain.ErrInvalidInput, err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	cols := make(map[string]int, len(columnAliases))
	for key, aliases := range columnAliases {
		cols[key] = -1
		for _, alias := range aliases {
			if i, ok := colIndex[alias]; ok {
				cols[key] = i
				break
			}
		}
	}
	for _, required := range []string{"source", "destination", "amount", "step"} {
		if cols[required] < 0 {
			return nil, fmt.Errorf("%w: missing required column %q", domain.ErrInvalidInput, required)
		}
	}

	batch := &Batch{}
	seen := make(map[string]struct{})
	addAccount := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			batch.Accounts = append(batch.Accounts, id)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidInput, line, err)
		}

		get := func(key string) string {
			if i := cols[key]; i >= 0 && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		source, dest := get("source"), get("destination")
		if source == "" || dest == "" {
			return nil, fmt.Errorf("%w: line %d: missing account id", domain.ErrInvalidInput, line)
		}

		amount, err := parseAmount(get("amount"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: amount: %v", domain.ErrInvalidInput, line, err)
		}
		step, err := parseStep(get("step"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: step: %v", domain.ErrInvalidInput, line, err)
		}

		id := int64(line - 1)
		if raw := get("id"); raw != "" {
			if id, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: id: %v", domain.ErrInvalidInput, line, err)
			}
		}

		rawLabel := get("label")
		fraud, status := ParseLabel(rawLabel)
		switch status {
		case LabelMissing:
			batch.Stats.MissingLabels++
		case LabelCoerced:
			batch.Stats.CoercedLabels++
			logger.Warn("non-standard fraud label coerced", "line", line, "value", rawLabel, "fraud", fraud)
		}
		if fraud {
			batch.Stats.Fraud++
		}

		addAccount(source)
		addAccount(dest)
		batch.Transfers = append(batch.Transfers, domain.TransferRecord{
			Transfer: domain.Transfer{
				ID:         id,
				SenderID:   source,
				ReceiverID: dest,
				Amount:     amount,
				Step:       step,
				Type:       get("type"),
			},
			Fraud: fraud,
		})
	}

	batch.Stats.Rows = len(batch.Transfers)
	batch.Stats.Accounts = len(batch.Accounts)
	return batch, nil
}

// LabelStatus describes how a raw label was interpreted.
type LabelStatus int

const (
	LabelStandard LabelStatus = iota
	LabelMissing
	LabelCoerced
)

// ParseLabel normalises boolean, integer and string fraud labels. Anything
// unrecognised falls back to a truthy check.
func ParseLabel(raw string) (bool, LabelStatus) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "":
		return false, LabelMissing
	case "1", "true", "t":
		return true, LabelStandard
	case "0", "false", "f":
		return false, LabelStandard
	}
	switch v {
	case "no", "n", "none", "null", "nan", "-nan", "+nan":
		return false, LabelCoerced
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0 && !math.IsNaN(f), LabelCoerced
	}
	return true, LabelCoerced
}

func parseAmount(raw string) (float64, error) {
	if raw == "" {
		return 0, errors.New("missing")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return v, nil
}

func parseStep(raw string) (int, error) {
	if raw == "" {
		return 0, errors.New("missing")
	}
	if v, err := strconv.Atoi(raw); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative step %d", v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || f < 0 {
		return 0, fmt.Errorf("invalid step %q", raw)
	}
	return int(f), nil
}
