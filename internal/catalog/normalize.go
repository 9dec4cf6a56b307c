// Package catalog normalizes the raw rule catalog and answers queries against it.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"donor_check/internal/model"
)

// Catalog is the normalized, read-only rule catalog. It is safe for
// concurrent use because nothing mutates it after Normalize returns.
type Catalog struct {
	records []model.RuleRecord
	keys    []searchKeys
	byID    map[string]int
	// fromRegion marks records expanded from a hierarchical region; those
	// are only reachable through region resolution when querying.
	fromRegion []bool
	regions    []region
	dropped    int
}

type searchKeys struct {
	name     string
	aliases  []string
	keywords []string
}

type region struct {
	id   string
	name string
	// pos is the index of the first record this region expanded into.
	pos       int
	countries []regionCountry
}

type regionCountry struct {
	name        string
	folded      string
	ruleType    model.RuleType
	areas       []string
	foldedAreas []string
	note        string
	// record is the index of the country-level record.
	record int
	// areaRecords holds exception record indexes parallel to areas
	// (exclusion countries only).
	areaRecords []int
}

// Normalize flattens the raw catalog into uniform records. Partitions are
// concatenated in model.Partitions order and records keep their order
// within a partition. The result is built completely or not at all.
func Normalize(raw model.RawCatalog) (*Catalog, error) {
	b := &builder{
		c:    &Catalog{byID: make(map[string]int)},
		seen: make(map[string]bool),
	}

	for _, p := range model.Partitions {
		for i, r := range raw.Records(p) {
			id := b.uniqueID(recordID(p, r.ID, i))
			if p != model.PartitionRegion {
				b.addFlat(id, r, model.CategoryFromRaw(r.Category))
				continue
			}
			switch r.Shape() {
			case model.ShapeFlat:
				b.addFlat(id, r, model.CategoryRegion)
			case model.ShapeHierarchical:
				b.addRegion(id, r)
			}
		}
	}

	if err := b.c.Validate(); err != nil {
		return nil, fmt.Errorf("normalize catalog: %w", err)
	}
	return b.c, nil
}

// Validate checks the catalog invariants.
func (c *Catalog) Validate() error {
	var errs []error
	ids := make(map[string]bool, len(c.records))
	for _, r := range c.records {
		if ids[r.ID] {
			errs = append(errs, fmt.Errorf("duplicate id %q", r.ID))
		}
		ids[r.ID] = true

		permanent := r.RestrictionType == model.RestrictionPermanent
		if permanent != (r.RestrictionPeriodDays == -1) {
			errs = append(errs, fmt.Errorf("%s: restriction %q with period %d days", r.ID, r.RestrictionType, r.RestrictionPeriodDays))
		}
		if r.RestrictionPeriodDays < -1 {
			errs = append(errs, fmt.Errorf("%s: negative period %d days", r.ID, r.RestrictionPeriodDays))
		}
		if r.Allowable && (!r.IsException || r.RestrictionPeriodDays != 0) {
			errs = append(errs, fmt.Errorf("%s: allowable record must be a zero-period exception", r.ID))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of normalized records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// Records returns a copy of all records in catalog order.
func (c *Catalog) Records() []model.RuleRecord {
	out := make([]model.RuleRecord, len(c.records))
	for i := range c.records {
		out[i] = c.record(i)
	}
	return out
}

// Get looks up a record by ID.
func (c *Catalog) Get(id string) (model.RuleRecord, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.RuleRecord{}, false
	}
	return c.record(i), true
}

// record returns a deep copy of the i-th record.
func (c *Catalog) record(i int) model.RuleRecord {
	r := c.records[i]
	r.Aliases = slices.Clone(r.Aliases)
	r.Keywords = slices.Clone(r.Keywords)
	return r
}

// Count returns the number of records in a display category.
func (c *Catalog) Count(cat model.Category) int {
	n := 0
	for _, r := range c.records {
		if r.Category == cat {
			n++
		}
	}
	return n
}

// Dropped returns how many country rules were skipped for an unknown rule type.
func (c *Catalog) Dropped() int {
	return c.dropped
}

type builder struct {
	c    *Catalog
	seen map[string]bool
}

func recordID(p model.Partition, id model.ID, index int) string {
	if id == "" {
		return string(p) + ":#" + strconv.Itoa(index)
	}
	return string(p) + ":" + string(id)
}

func (b *builder) uniqueID(base string) string {
	id := base
	for n := 2; b.seen[id]; n++ {
		id = base + "#" + strconv.Itoa(n)
	}
	b.seen[id] = true
	return id
}

func (b *builder) add(rec model.RuleRecord, fromRegion bool) int {
	i := len(b.c.records)
	b.c.records = append(b.c.records, rec)
	b.c.keys = append(b.c.keys, searchKeys{
		name:     fold(rec.Name),
		aliases:  foldAll(rec.Aliases),
		keywords: foldAll(rec.Keywords),
	})
	b.c.fromRegion = append(b.c.fromRegion, fromRegion)
	b.c.byID[rec.ID] = i
	return i
}

func (b *builder) addFlat(id string, r model.RawRuleRecord, cat model.Category) {
	rec := model.RuleRecord{
		ID:          id,
		Name:        r.Name,
		Category:    cat,
		Aliases:     slices.Clone(r.Aliases),
		Keywords:    slices.Clone(r.Keywords),
		Description: r.Description,
	}
	applyRestriction(&rec, r.Restriction)

	if r.Category != "region" && len(r.Countries) > 0 {
		names := make([]string, 0, len(r.Countries))
		for _, c := range r.Countries {
			names = append(names, c.CountryName)
		}
		rec.Description += " (대상 국가: " + strings.Join(names, ", ") + ")"
	}

	b.add(rec, false)
}

func (b *builder) addRegion(id string, r model.RawRuleRecord) {
	reg := region{id: id, name: r.Name, pos: len(b.c.records)}

	for _, ctry := range r.Countries {
		rc := regionCountry{
			name:        ctry.CountryName,
			folded:      fold(ctry.CountryName),
			ruleType:    ctry.RuleType,
			areas:       slices.Clone(ctry.Areas),
			foldedAreas: foldAll(ctry.Areas),
			note:        ctry.Note,
		}

		switch ctry.RuleType {
		case model.RuleExclusion:
			countryID := b.uniqueID(id + "/" + ctry.CountryName)
			rec := b.countryRecord(countryID, r, ctry)
			rec.Description = withNote(fmt.Sprintf("%s 전 지역이 헌혈 제한 지역이며, 일부 지역은 예외적으로 헌혈이 가능합니다 (예외 지역: %s).",
				ctry.CountryName, strings.Join(ctry.Areas, ", ")), ctry.Note)
			if rec.RestrictionType == model.RestrictionNone && rec.RestrictionPeriodDays == 0 {
				// Only the exception areas are known to be safe.
				rec.RestrictionType = model.RestrictionConditional
				rec.Condition = fmt.Sprintf("예외 지역(%s) 외 방문 여부 확인 필요", strings.Join(ctry.Areas, ", "))
			}
			rc.record = b.add(rec, true)

			for _, area := range ctry.Areas {
				rc.areaRecords = append(rc.areaRecords, b.add(b.exceptionRecord(countryID, r, ctry, area), true))
			}
		case model.RuleInclusion:
			rec := b.countryRecord(b.uniqueID(id+"/"+ctry.CountryName), r, ctry)
			desc := ctry.CountryName + " 내 일부 지역이 헌혈 제한 지역입니다."
			if len(ctry.Areas) > 0 {
				desc = fmt.Sprintf("%s 내 다음 지역이 헌혈 제한 지역입니다: %s.", ctry.CountryName, strings.Join(ctry.Areas, ", "))
			}
			rec.Description = withNote(desc, ctry.Note)
			rc.record = b.add(rec, true)
		default:
			b.c.dropped++
			continue
		}
		reg.countries = append(reg.countries, rc)
	}

	b.c.regions = append(b.c.regions, reg)
}

// countryRecord builds the country-level record. The country inherits the
// enclosing region's restriction; there is no per-country override.
func (b *builder) countryRecord(id string, r model.RawRuleRecord, ctry model.Country) model.RuleRecord {
	rec := model.RuleRecord{
		ID:            id,
		Name:          ctry.CountryName,
		Category:      model.CategoryRegion,
		Keywords:      nonEmpty(ctry.CountryName, r.Name),
		SourceCountry: ctry.CountryName,
		SourceNote:    ctry.Note,
	}
	applyRestriction(&rec, r.Restriction)
	return rec
}

func (b *builder) exceptionRecord(countryID string, r model.RawRuleRecord, ctry model.Country, area string) model.RuleRecord {
	desc := fmt.Sprintf("%s은(는) %s 대상 국가이지만, %s 지역은 예외적으로 헌혈이 가능합니다.", ctry.CountryName, r.Name, area)
	return model.RuleRecord{
		ID:              b.uniqueID(countryID + "/" + area),
		Name:            ctry.CountryName + " - " + area,
		Category:        model.CategoryRegion,
		Keywords:        nonEmpty(ctry.CountryName, area, r.Name),
		Description:     withNote(desc, ctry.Note),
		RestrictionType: model.RestrictionNone,
		PeriodUnit:      model.UnitDay,
		Allowable:       true,
		IsException:     true,
		SourceCountry:   ctry.CountryName,
		SourceArea:      area,
		SourceNote:      ctry.Note,
	}
}

func applyRestriction(rec *model.RuleRecord, r *model.RawRestriction) {
	if r == nil {
		rec.RestrictionType = model.RestrictionNone
		return
	}
	rec.RestrictionType, rec.RestrictionPeriodDays = convertRestriction(r)
	rec.PeriodValue = max(r.PeriodValue, 0)
	rec.PeriodUnit = r.PeriodUnit
	rec.Condition = r.Condition
}

// convertRestriction derives the normalized type and the period in days.
// A permanent type or unit always yields -1; unknown raw types are treated
// as conditional since they cannot be resolved without consultation.
func convertRestriction(r *model.RawRestriction) (model.RestrictionType, int) {
	rt := model.RestrictionType(r.Type)
	if rt == model.RestrictionPermanent || r.PeriodUnit == model.UnitPermanent {
		return model.RestrictionPermanent, -1
	}
	switch rt {
	case model.RestrictionTemporary, model.RestrictionConditional, model.RestrictionNone:
	default:
		rt = model.RestrictionConditional
	}
	return rt, PeriodDays(r.PeriodValue, r.PeriodUnit)
}

// MaxPeriodDays caps converted periods.
const MaxPeriodDays = 100 * 365

var unitDays = map[model.PeriodUnit]int{
	model.UnitDay:   1,
	model.UnitWeek:  7,
	model.UnitMonth: 30,
	model.UnitYear:  365,
}

// PeriodDays converts a period to days with a fixed approximation: a month
// counts as 30 days and a year as 365. It returns -1 for UnitPermanent and
// 0 for unknown units or negative values. Longer periods saturate at
// MaxPeriodDays.
func PeriodDays(value int, unit model.PeriodUnit) int {
	if unit == model.UnitPermanent {
		return -1
	}
	days, ok := unitDays[unit]
	if !ok || value < 0 {
		return 0
	}
	if value > MaxPeriodDays/days {
		return MaxPeriodDays
	}
	return value * days
}

func withNote(desc, note string) string {
	if note == "" {
		return desc
	}
	return desc + " (" + note + ")"
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
