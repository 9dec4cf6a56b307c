package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"donor_check/internal/model"
)

// Field names the part of a record a query matched.
type Field string

// Matchable fields.
const (
	FieldName    Field = "name"
	FieldAlias   Field = "alias"
	FieldKeyword Field = "keyword"
	FieldCountry Field = "country"
	FieldArea    Field = "area"
)

// Match identifies one matching field and its value.
type Match struct {
	Field Field
	Value string
}

// ResolutionKind describes how a region query was resolved.
type ResolutionKind int

// Region resolutions.
const (
	// ResolvedException: an exception area of an exclusion country; donation is allowed.
	ResolvedException ResolutionKind = iota + 1
	// CountryWithExceptions: an exclusion country without a resolved area.
	CountryWithExceptions
	// RiskArea: a restricted area of an inclusion country.
	RiskArea
	// PartiallyRisky: an inclusion country without a resolved area.
	PartiallyRisky
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolvedException:
		return "exception"
	case CountryWithExceptions:
		return "exceptions apply"
	case RiskArea:
		return "risk area"
	case PartiallyRisky:
		return "partially risky"
	}
	return "unknown"
}

// Resolution is the outcome of matching a query against a region's
// country rules.
type Resolution struct {
	Kind     ResolutionKind
	Region   string
	Country  string
	Area     string
	RuleType model.RuleType
}

// Result is a record annotated with why it matched. Record is a deep copy;
// the catalog is never modified through it.
type Result struct {
	Record     model.RuleRecord
	MatchInfo  []Match
	Resolution *Resolution
}

// IsBlank reports whether a query is treated as empty.
func IsBlank(text string) bool {
	return fold(text) == ""
}

// Query searches the catalog. A blank query lists the catalog, restricted
// to filter when it is set, without match info. A non-empty query searches
// every record and ignores filter. Results keep catalog order and never
// repeat a (record, name) pair.
func (c *Catalog) Query(text string, filter model.Category) []Result {
	q := fold(text)
	if q == "" {
		return c.list(filter)
	}
	tokens := tokenize(q)

	out := make([]Result, 0)
	type key struct{ id, name string }
	seen := make(map[key]bool)
	emit := func(r Result) {
		k := key{r.Record.ID, r.Record.Name}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, r)
	}

	next := 0
	for i := range c.records {
		for ; next < len(c.regions) && c.regions[next].pos <= i; next++ {
			if r, ok := c.resolve(&c.regions[next], tokens); ok {
				emit(r)
			}
		}
		if c.fromRegion[i] {
			continue
		}
		if m := c.matchFields(i, q); len(m) > 0 {
			emit(Result{Record: c.record(i), MatchInfo: m})
		}
	}
	for ; next < len(c.regions); next++ {
		if r, ok := c.resolve(&c.regions[next], tokens); ok {
			emit(r)
		}
	}
	return out
}

func (c *Catalog) list(filter model.Category) []Result {
	out := make([]Result, 0, len(c.records))
	for i, r := range c.records {
		if filter != "" && r.Category != filter {
			continue
		}
		out = append(out, Result{Record: c.record(i)})
	}
	return out
}

func (c *Catalog) matchFields(i int, q string) []Match {
	rec, keys := &c.records[i], &c.keys[i]
	var m []Match
	if strings.Contains(keys.name, q) {
		m = append(m, Match{Field: FieldName, Value: rec.Name})
	}
	for j, a := range keys.aliases {
		if strings.Contains(a, q) {
			m = append(m, Match{Field: FieldAlias, Value: rec.Aliases[j]})
		}
	}
	for j, k := range keys.keywords {
		if strings.Contains(k, q) {
			m = append(m, Match{Field: FieldKeyword, Value: rec.Keywords[j]})
		}
	}
	return m
}

// resolve picks the best-scoring country of a region for the query
// tokens. A country scores 1 when its name contains any token and 2 more
// when one of its areas contains the tokens it did not consume. The first
// country reaching the highest score wins.
func (c *Catalog) resolve(reg *region, tokens []string) (Result, bool) {
	best, bestScore, bestArea, bestHit := -1, 0, -1, false
	for i := range reg.countries {
		countryHit, area := scoreCountry(&reg.countries[i], tokens)
		score := 0
		if countryHit {
			score++
		}
		if area >= 0 {
			score += 2
		}
		if score > bestScore {
			best, bestScore, bestArea, bestHit = i, score, area, countryHit
		}
	}
	if best < 0 {
		return Result{}, false
	}

	rc := &reg.countries[best]
	res := &Resolution{Region: reg.name, Country: rc.name, RuleType: rc.ruleType}
	var m []Match
	if bestHit {
		m = append(m, Match{Field: FieldCountry, Value: rc.name})
	}

	idx := rc.record
	switch rc.ruleType {
	case model.RuleExclusion:
		res.Kind = CountryWithExceptions
		if bestArea >= 0 {
			res.Kind = ResolvedException
			idx = rc.areaRecords[bestArea]
		}
	case model.RuleInclusion:
		res.Kind = PartiallyRisky
		if bestArea >= 0 {
			res.Kind = RiskArea
		}
	}
	if bestArea >= 0 {
		res.Area = rc.areas[bestArea]
		m = append(m, Match{Field: FieldArea, Value: res.Area})
	}

	return Result{Record: c.record(idx), MatchInfo: m, Resolution: res}, true
}

func scoreCountry(rc *regionCountry, tokens []string) (bool, int) {
	countryHit := false
	rest := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if strings.Contains(rc.folded, t) {
			countryHit = true
			continue
		}
		rest = append(rest, t)
	}

	area := -1
	if len(rest) > 0 {
		aq := strings.Join(rest, " ")
		for i, a := range rc.foldedAreas {
			if strings.Contains(a, aq) {
				area = i
				break
			}
		}
	}
	return countryHit, area
}

// tokenize splits a folded query on whitespace. Bare dashes are dropped so
// a display name such as "Thailand - Bangkok" can be searched as typed.
func tokenize(q string) []string {
	fields := strings.Fields(q)
	out := fields[:0]
	for _, f := range fields {
		if strings.Trim(f, "-") == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// fold prepares text for case-insensitive comparison. Hangul typed on some
// platforms arrives decomposed, so text is composed to NFC first.
func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

func foldAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fold(v)
	}
	return out
}
