package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"donor_check/internal/model"
)

const dateLayout = "2006-01-02"

// SearchArgs holds the parsed arguments of a search command.
type SearchArgs struct {
	Query string
	Date  time.Time
}

// ParseSearchArgs parses arguments for /search.
// Format: [-d YYYY-MM-DD] <query...>
// The base date defaults to today.
func ParseSearchArgs(args string, today time.Time) (SearchArgs, error) {
	parts := strings.Fields(args)
	date := today

	if len(parts) >= 2 && parts[0] == "-d" {
		d, err := time.Parse(dateLayout, parts[1])
		if err != nil {
			return SearchArgs{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", parts[1])
		}
		date = d
		parts = parts[2:]
	}

	if len(parts) == 0 {
		return SearchArgs{}, fmt.Errorf("usage: /search [-d YYYY-MM-DD] <query>")
	}

	return SearchArgs{
		Query: strings.Join(parts, " "),
		Date:  date,
	}, nil
}

// ParseCategoryArgs extracts a category and an optional 1-based page number.
// The category may be given by code or by its label.
// Format: <category> [page]
func ParseCategoryArgs(args string) (model.Category, int, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", 0, fmt.Errorf("usage: /category <category> [page]")
	}

	cat, err := parseCategory(parts[0])
	if err != nil {
		return "", 0, err
	}

	page := 1
	if len(parts) > 1 {
		page, err = strconv.Atoi(parts[1])
		if err != nil || page < 1 {
			return "", 0, fmt.Errorf("invalid page %q", parts[1])
		}
	}
	return cat, page, nil
}

func parseCategory(s string) (model.Category, error) {
	for _, c := range model.Categories {
		if c.Label() == s {
			return c, nil
		}
	}
	cat, err := model.ParseCategory(strings.ToLower(s))
	if err != nil {
		return "", fmt.Errorf("unknown category %q, use /categories to list them", s)
	}
	return cat, nil
}
