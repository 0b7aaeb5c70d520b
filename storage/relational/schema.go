package relational

import (
	"strings"
	"time"

	"quoteflow/models"
)

// InstrumentRecord is the column layout of basic_info rows.
type InstrumentRecord struct {
	Symbol     string    `gorm:"column:symbol;size:64;not null"`
	Name       string    `gorm:"column:name;size:128"`
	Exchange   string    `gorm:"column:exchange;size:32"`
	Status     string    `gorm:"column:status;size:32"`
	BaseAsset  string    `gorm:"column:base_asset;size:32"`
	QuoteAsset string    `gorm:"column:quote_asset;size:32"`
	ListedAt   time.Time `gorm:"column:listed_at"`
	Provider   string    `gorm:"column:provider;size:64"`
}

// ClassificationRecord is one node of an industry or concept taxonomy.
type ClassificationRecord struct {
	Code       string `gorm:"column:code;size:64;not null"`
	Name       string `gorm:"column:name;size:128"`
	ParentCode string `gorm:"column:parent_code;size:64"`
	Category   string `gorm:"column:category;size:32"`
	Provider   string `gorm:"column:provider;size:64"`
}

// SymbolReferenceRecord links a symbol to a classification code.
type SymbolReferenceRecord struct {
	Symbol   string `gorm:"column:symbol;size:64;not null"`
	Category string `gorm:"column:category;size:32;not null"`
	Code     string `gorm:"column:code;size:64;not null"`
	Name     string `gorm:"column:name;size:128"`
	Provider string `gorm:"column:provider;size:64"`
}

// BarRecord is used when a price classification is routed to the
// relational backend.
type BarRecord struct {
	Symbol   string    `gorm:"column:symbol;size:64;not null"`
	Ts       time.Time `gorm:"column:ts;not null"`
	Period   string    `gorm:"column:period;size:8"`
	Open     float64   `gorm:"column:open"`
	High     float64   `gorm:"column:high"`
	Low      float64   `gorm:"column:low"`
	Close    float64   `gorm:"column:close"`
	Volume   float64   `gorm:"column:volume"`
	Amount   float64   `gorm:"column:amount"`
	Provider string    `gorm:"column:provider;size:64"`
}

// TableSchema returns the model migrated for tables holding class.
func TableSchema(class models.DataClassification) any {
	switch class {
	case models.SymbolsInfo:
		return &InstrumentRecord{}
	case models.IndustryClassification, models.ConceptClassification:
		return &ClassificationRecord{}
	case models.ReferenceData:
		return &SymbolReferenceRecord{}
	case models.TickData, models.MinuteKline, models.DailyKline:
		return &BarRecord{}
	}
	return nil
}

// conflictIndexName names the unique index backing ON CONFLICT for keys.
func conflictIndexName(table string, keys []string) string {
	return "uq_" + table + "_" + strings.Join(keys, "_")
}
