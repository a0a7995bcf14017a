package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/store"
)

func TestReadCSV(t *testing.T) {
	t.Run("PaySim headers", func(t *testing.T) {
		data := `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,TRANSFER,181.0,C1,181.0,0.0,C2,0.0,0.0,1,0
2,PAYMENT,9839.64,C3,170136.0,160296.36,M1,0.0,0.0,0,0
`
		batch, err := ReadCSV(strings.NewReader(data), nil)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if batch.Stats.Rows != 2 || batch.Stats.Accounts != 4 || batch.Stats.Fraud != 1 {
			t.Errorf("unexpected stats: %+v", batch.Stats)
		}
		first := batch.Transfers[0]
		if first.ID != 1 || first.SenderID != "C1" || first.ReceiverID != "C2" || !first.Fraud {
			t.Errorf("unexpected first transfer: %+v", first)
		}
		if batch.Transfers[1].ID != 2 || batch.Transfers[1].Step != 2 {
			t.Errorf("row ids should follow row order: %+v", batch.Transfers[1])
		}
	})

	t.Run("explicit ids and canonical headers", func(t *testing.T) {
		data := `id,source_id,destination_id,amount,step,type,fraud_label
10,a,b,5,0,TRANSFER,false
20,b,a,6,1,TRANSFER,
`
		batch, err := ReadCSV(strings.NewReader(data), nil)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if batch.Transfers[0].ID != 10 || batch.Transfers[1].ID != 20 {
			t.Errorf("expected explicit ids, got %d and %d", batch.Transfers[0].ID, batch.Transfers[1].ID)
		}
		if batch.Stats.MissingLabels != 1 {
			t.Errorf("expected one missing label, got %d", batch.Stats.MissingLabels)
		}
	})

	t.Run("missing amount aborts", func(t *testing.T) {
		data := "source_id,destination_id,amount,step\na,b,,1\n"
		_, err := ReadCSV(strings.NewReader(data), nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("invalid step aborts", func(t *testing.T) {
		data := "source_id,destination_id,amount,step\na,b,10,x\n"
		_, err := ReadCSV(strings.NewReader(data), nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("missing required column", func(t *testing.T) {
		data := "source_id,amount,step\na,10,1\n"
		_, err := ReadCSV(strings.NewReader(data), nil)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		raw    string
		fraud  bool
		status LabelStatus
	}{
		{"1", true, LabelStandard},
		{"0", false, LabelStandard},
		{"True", true, LabelStandard},
		{"false", false, LabelStandard},
		{"", false, LabelMissing},
		{"1.0", true, LabelCoerced},
		{"0.0", false, LabelCoerced},
		{"yes", true, LabelCoerced},
		{"no", false, LabelCoerced},
		{"nan", false, LabelCoerced},
		{"NaN", false, LabelCoerced},
		{"inf", true, LabelCoerced},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			fraud, status := ParseLabel(tt.raw)
			if fraud != tt.fraud || status != tt.status {
				t.Errorf("ParseLabel(%q) = %v, %v; want %v, %v", tt.raw, fraud, status, tt.fraud, tt.status)
			}
		})
	}
}

func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	path := filepath.Join(dir, "transfers.csv")
	data := "source_id,destination_id,amount,step,fraud_label\na,b,10,1,0\nb,c,20,2,1\nc,a,30,3,0\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	loader := NewLoader(s, nil, 2, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stats, err := loader.LoadFile(ctx, path)
		if err != nil {
			t.Fatalf("LoadFile #%d failed: %v", i+1, err)
		}
		if stats.Rows != 3 {
			t.Errorf("expected 3 rows, got %d", stats.Rows)
		}
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Accounts != 3 || counts.Transfers != 3 {
		t.Errorf("reload should be idempotent, got %+v", counts)
	}

	labels, err := s.Labels(ctx)
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	if !labels[2] || labels[1] {
		t.Errorf("unexpected labels: %v", labels)
	}
}

func TestLoaderMissingFile(t *testing.T) {
	loader := NewLoader(nil, nil, 0, nil)
	if _, err := loader.LoadFile(context.Background(), "/nonexistent/file.csv"); err == nil {
		t.Error("expected error for missing file")
	}
}
