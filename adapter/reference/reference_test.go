package reference

import (
	"context"
	"errors"
	"testing"
	"time"

	"quoteflow/adapter"
	"quoteflow/config"
	"quoteflow/models"
)

const doc = `industries:
  - {code: TECH, name: Technology}
  - {code: SEMI, name: Semiconductors, parent: TECH}
concepts:
  - {code: AI, name: Artificial Intelligence}
  - {code: DC, name: Data Center}
symbols:
  NVDA:
    industries: [SEMI]
    concepts: [DC, AI]
`

func TestSymbolIndustryConcept(t *testing.T) {
	src, err := Parse([]byte(doc), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := adapter.FromSource(Name, src, models.OpSymbolIndustryConcept)

	res, err := a.Fetch(context.Background(), models.OpSymbolIndustryConcept, adapter.Params{Symbol: "NVDA"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Rows) != 3 {
		t.Fatalf("expected 3 memberships, got %v", res.Rows)
	}
	if res.Rows[0][models.ColCode] != "SEMI" || res.Rows[1][models.ColCode] != "AI" || res.Rows[1][models.ColName] != "Artificial Intelligence" {
		t.Fatalf("unexpected rows %v", res.Rows)
	}

	miss, err := a.Fetch(context.Background(), models.OpSymbolIndustryConcept, adapter.Params{Symbol: "TSLA"})
	if err != nil {
		t.Fatalf("unknown symbol must not error: %v", err)
	}
	if miss.Valid() {
		t.Fatalf("unknown symbol must produce an invalid result")
	}
}

func TestIndustryCatalogue(t *testing.T) {
	src, err := Parse([]byte(doc), "test")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows, _ := src.FetchIndustryClassification(context.Background())
	if len(rows) != 2 || rows[1][models.ColParent] != "TECH" || rows[1][models.ColCategory] != "industry" {
		t.Fatalf("unexpected catalogue %v", rows)
	}
}

func TestUnknownMembershipRejected(t *testing.T) {
	_, err := Parse([]byte("concepts: []\nsymbols:\n  X: {concepts: [NOPE]}\n"), "bad.yml")
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestPriceHistoryUnsupported(t *testing.T) {
	src, _ := Parse([]byte(doc), "test")
	_, err := src.FetchPriceHistory(context.Background(), "NVDA", time.Time{}, time.Time{})
	if !errors.Is(err, adapter.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
