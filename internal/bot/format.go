package bot

import (
	"fmt"
	"strings"
	"time"

	"donor_check/internal/catalog"
	"donor_check/internal/eligibility"
	"donor_check/internal/model"
)

const (
	maxSearchResults = 10
	categoryPageSize = 20
	maxDescription   = 300
	maxNotices       = 5
)

// FormatResult formats a single rule with its eligibility as of base.
func FormatResult(r catalog.Result, base time.Time) string {
	rec := r.Record
	elig := eligibility.Compute(rec, base)

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", rec.Name, rec.Category.Label())
	fmt.Fprintf(&b, "%s %s\n", stateMark(elig.State), elig.Message())
	if period := eligibility.PeriodText(rec); period != "" {
		b.WriteString(period)
		b.WriteString("\n")
	}
	if note := resolutionNote(r.Resolution); note != "" {
		b.WriteString(note)
		b.WriteString("\n")
	}
	if rec.Description != "" {
		b.WriteString(truncate(rec.Description, maxDescription))
		b.WriteString("\n")
	}
	if len(r.MatchInfo) > 0 {
		b.WriteString("Matched: ")
		b.WriteString(formatMatches(r.MatchInfo))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatSearchResults formats the outcome of a search query.
func FormatSearchResults(query string, results []catalog.Result, base time.Time) string {
	if len(results) == 0 {
		return fmt.Sprintf("No rules match \"%s\".", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for \"%s\" as of %s:\n", len(results), query, base.Format(dateLayout))
	for i, r := range results {
		if i == maxSearchResults {
			fmt.Fprintf(&b, "\n...and %d more. Refine your query to narrow the list.", len(results)-maxSearchResults)
			break
		}
		b.WriteString("\n")
		b.WriteString(FormatResult(r, base))
	}
	return b.String()
}

// FormatCategoryPage formats one page of a category listing and returns the
// clamped page number and the total number of pages.
func FormatCategoryPage(cat model.Category, results []catalog.Result, page int, base time.Time) (string, int, int) {
	if len(results) == 0 {
		return fmt.Sprintf("No rules in category %s.", cat.Label()), 1, 1
	}

	start, end, page, pages := Paginate(len(results), page, categoryPageSize)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): page %d/%d, as of %s\n", cat.Label(), cat, page, pages, base.Format(dateLayout))
	for _, r := range results[start:end] {
		elig := eligibility.Compute(r.Record, base)
		fmt.Fprintf(&b, "\n%s %s: %s", stateMark(elig.State), r.Record.Name, elig.Message())
	}
	return b.String(), page, pages
}

// FormatCategories lists the display categories with their record counts.
func FormatCategories(c *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, cat := range model.Categories {
		fmt.Fprintf(&b, "\n%s (%s): %d rules", cat.Label(), cat, c.Count(cat))
	}
	b.WriteString("\n\nUse /category <name> to browse one.")
	return b.String()
}

// FormatStatus describes the loaded catalog and its latest import.
func FormatStatus(c *catalog.Catalog, imp *model.CatalogImport) string {
	var b strings.Builder
	if c == nil {
		b.WriteString("Catalog: not loaded\n")
	} else {
		fmt.Fprintf(&b, "Catalog: %d rules\n", c.Len())
	}
	if imp != nil {
		fmt.Fprintf(&b, "Last import: #%d from %s\n", imp.ID, imp.Source)
		fmt.Fprintf(&b, "Imported at: %s\n", imp.ImportedAt.Format("2006-01-02 15:04 UTC"))
	}
	return b.String()
}

// FormatNotices lists announcements with their dates and links.
func FormatNotices(notices []model.Notice) string {
	if len(notices) == 0 {
		return "No notices."
	}

	var b strings.Builder
	b.WriteString("Latest notices:\n")
	for _, n := range notices {
		b.WriteString("\n")
		if !n.PublishedAt.IsZero() {
			fmt.Fprintf(&b, "%s ", n.PublishedAt.Format(dateLayout))
		}
		b.WriteString(n.Title)
		if n.Link != "" {
			fmt.Fprintf(&b, "\n%s", n.Link)
		}
	}
	return b.String()
}

// Paginate returns the slice bounds of a 1-based page, the page clamped to
// the valid range, and the total page count.
func Paginate(n, page, size int) (int, int, int, int) {
	pages := max((n+size-1)/size, 1)
	page = min(max(page, 1), pages)
	start := (page - 1) * size
	end := min(start+size, n)
	return start, end, page, pages
}

func stateMark(s eligibility.State) string {
	switch s {
	case eligibility.AllowedNow:
		return "[OK]"
	case eligibility.PermanentlyBlocked:
		return "[NO]"
	case eligibility.EligibleFromDate:
		return "[WAIT]"
	default:
		return "[ASK]"
	}
}

func resolutionNote(r *catalog.Resolution) string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case catalog.ResolvedException:
		return fmt.Sprintf("Exception area of %s.", r.Country)
	case catalog.CountryWithExceptions:
		return fmt.Sprintf("%s (exceptions apply): add an area to check an exception.", r.Country)
	case catalog.RiskArea:
		return fmt.Sprintf("%s is a restricted area of %s.", r.Area, r.Country)
	case catalog.PartiallyRisky:
		return fmt.Sprintf("%s (partially risky): only some areas are restricted.", r.Country)
	}
	return ""
}

func formatMatches(ms []catalog.Match) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = fmt.Sprintf("%s \"%s\"", m.Field, m.Value)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
