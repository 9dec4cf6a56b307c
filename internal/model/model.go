// Package model defines the domain types used across the application.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Category is a display category shown to users and used for filtering.
type Category string

// Supported display categories.
const (
	CategoryDisease     Category = "disease"
	CategoryRegion      Category = "region"
	CategoryMedication  Category = "medication"
	CategoryVaccination Category = "vaccination"
	CategoryProcedure   Category = "procedure"
	CategoryOther       Category = "other"
)

// Categories is the fixed display vocabulary in presentation order.
var Categories = []Category{
	CategoryDisease,
	CategoryRegion,
	CategoryMedication,
	CategoryVaccination,
	CategoryProcedure,
	CategoryOther,
}

var rawCategories = map[string]Category{
	"disease":                 CategoryDisease,
	"region":                  CategoryRegion,
	"medication":              CategoryMedication,
	"vaccination":             CategoryVaccination,
	"procedure":               CategoryProcedure,
	"region_travel":           CategoryRegion,
	"region_domestic_malaria": CategoryRegion,
	"region_vcjd":             CategoryRegion,
	"region_malaria":          CategoryRegion,
	"etc":                     CategoryOther,
}

// CategoryFromRaw maps a raw category code onto the display vocabulary.
// Unknown codes collapse onto CategoryOther.
func CategoryFromRaw(code string) Category {
	if c, ok := rawCategories[code]; ok {
		return c
	}
	return CategoryOther
}

// ParseCategory validates a display category code.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Label returns the category name in the catalog's language.
func (c Category) Label() string {
	switch c {
	case CategoryDisease:
		return "질병"
	case CategoryRegion:
		return "지역"
	case CategoryMedication:
		return "약물"
	case CategoryVaccination:
		return "백신"
	case CategoryProcedure:
		return "시술"
	default:
		return "기타"
	}
}

// RestrictionType classifies how a rule restricts donation.
type RestrictionType string

// Normalized restriction types.
const (
	RestrictionPermanent   RestrictionType = "permanent"
	RestrictionConditional RestrictionType = "conditional"
	RestrictionTemporary   RestrictionType = "temporary"
	RestrictionNone        RestrictionType = "none"
)

// PeriodUnit is the unit of a raw restriction period.
type PeriodUnit string

// Known period units.
const (
	UnitDay       PeriodUnit = "day"
	UnitWeek      PeriodUnit = "week"
	UnitMonth     PeriodUnit = "month"
	UnitYear      PeriodUnit = "year"
	UnitPermanent PeriodUnit = "permanent"
)

// RuleType tells how a country's area list relates to its restriction.
type RuleType string

// Country rule types.
const (
	// RuleExclusion: the whole country is restricted, listed areas are safe.
	RuleExclusion RuleType = "exclusion"
	// RuleInclusion: the whole country is safe, listed areas are restricted.
	RuleInclusion RuleType = "inclusion"
)

// ID is a raw record identifier. Catalog files use both JSON numbers and
// strings for it.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// RawRestriction is the restriction block of a raw catalog record.
type RawRestriction struct {
	Type        string     `json:"type"`
	PeriodValue int        `json:"periodValue"`
	PeriodUnit  PeriodUnit `json:"periodUnit"`
	Condition   string     `json:"condition,omitempty"`
}

// Country is a per-country rule nested inside a region record.
type Country struct {
	CountryName string   `json:"countryName"`
	RuleType    RuleType `json:"ruleType"`
	Areas       []string `json:"areas,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// RawRuleRecord is a catalog record as published, before normalization.
type RawRuleRecord struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	Aliases     []string        `json:"aliases,omitempty"`
	Keywords    []string        `json:"keywords,omitempty"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Restriction *RawRestriction `json:"restriction,omitempty"`
	Countries   []Country       `json:"countries,omitempty"`
}

// Shape tags the two forms a region record can take.
type Shape int

// Region record shapes.
const (
	ShapeFlat Shape = iota
	ShapeHierarchical
)

// Shape reports whether the record carries nested country rules.
func (r RawRuleRecord) Shape() Shape {
	if len(r.Countries) > 0 {
		return ShapeHierarchical
	}
	return ShapeFlat
}

// Partition names a raw catalog partition.
type Partition string

// Raw catalog partitions in concatenation order.
const (
	PartitionDisease     Partition = "disease"
	PartitionMedication  Partition = "medication"
	PartitionVaccination Partition = "vaccination"
	PartitionProcedure   Partition = "procedure"
	PartitionEtc         Partition = "etc"
	PartitionRegion      Partition = "region"
)

// Partitions lists every partition in the order the catalog concatenates them.
var Partitions = []Partition{
	PartitionDisease,
	PartitionMedication,
	PartitionVaccination,
	PartitionProcedure,
	PartitionEtc,
	PartitionRegion,
}

// RawCatalog is the raw catalog split by partition.
type RawCatalog struct {
	Disease     []RawRuleRecord
	Medication  []RawRuleRecord
	Vaccination []RawRuleRecord
	Procedure   []RawRuleRecord
	Etc         []RawRuleRecord
	Region      []RawRuleRecord
}

// Records returns the records of one partition.
func (c *RawCatalog) Records(p Partition) []RawRuleRecord {
	switch p {
	case PartitionDisease:
		return c.Disease
	case PartitionMedication:
		return c.Medication
	case PartitionVaccination:
		return c.Vaccination
	case PartitionProcedure:
		return c.Procedure
	case PartitionEtc:
		return c.Etc
	case PartitionRegion:
		return c.Region
	}
	return nil
}

// SetRecords replaces the records of one partition.
func (c *RawCatalog) SetRecords(p Partition, recs []RawRuleRecord) {
	switch p {
	case PartitionDisease:
		c.Disease = recs
	case PartitionMedication:
		c.Medication = recs
	case PartitionVaccination:
		c.Vaccination = recs
	case PartitionProcedure:
		c.Procedure = recs
	case PartitionEtc:
		c.Etc = recs
	case PartitionRegion:
		c.Region = recs
	}
}

// Len returns the total number of raw records.
func (c *RawCatalog) Len() int {
	n := 0
	for _, p := range Partitions {
		n += len(c.Records(p))
	}
	return n
}

// RuleRecord is a normalized catalog entry.
type RuleRecord struct {
	ID          string
	Name        string
	Category    Category
	Aliases     []string
	Keywords    []string
	Description string

	RestrictionType RestrictionType
	// RestrictionPeriodDays is -1 for permanent restrictions.
	RestrictionPeriodDays int
	PeriodValue           int
	PeriodUnit            PeriodUnit
	Condition             string

	Allowable     bool
	IsException   bool
	SourceCountry string
	SourceArea    string
	SourceNote    string
}

// CatalogImport describes one snapshot of the raw catalog saved to storage.
type CatalogImport struct {
	ID          int64
	Source      string
	RecordCount int
	ImportedAt  time.Time
}

// Notice is an announcement from the blood service's notice feed.
type Notice struct {
	Title       string
	Link        string
	GUID        string
	PublishedAt time.Time
}
