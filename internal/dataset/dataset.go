// Package dataset knows the IMDb dataset dump files and how to read them.
package dataset

import (
	"fmt"
	"sort"
)

// Name identifies one of the published IMDb dataset dumps.
type Name string

const (
	NameBasics      Name = "name.basics"
	TitleAkas       Name = "title.akas"
	TitleBasics     Name = "title.basics"
	TitleCrew       Name = "title.crew"
	TitlePrincipals Name = "title.principals"
	TitleRatings    Name = "title.ratings"
)

// All lists every dataset in canonical order.
var All = []Name{
	NameBasics,
	TitleAkas,
	TitleBasics,
	TitleCrew,
	TitlePrincipals,
	TitleRatings,
}

// AllName is the pseudo dataset name that expands to every dataset.
const AllName = "all"

// Filename returns the compressed dump file name, e.g. "name.basics.tsv.gz".
func (n Name) Filename() string {
	return string(n) + ".tsv.gz"
}

// TableName returns the staging table name, e.g. "name_basics".
func (n Name) TableName() string {
	table := make([]byte, len(n))
	for i := 0; i < len(n); i++ {
		if n[i] == '.' {
			table[i] = '_'
		} else {
			table[i] = n[i]
		}
	}
	return string(table)
}

// Parse validates a dataset name given on the command line.
func Parse(name string) (Name, error) {
	for _, known := range All {
		if string(known) == name {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown dataset name %q (valid: %s, %s)", name, AllName, joinNames())
}

// ResolveNames expands "all" and returns a sorted, de-duplicated list.
// "all" must be the only name when present.
func ResolveNames(names []string) ([]Name, error) {
	hasAll := false
	for _, name := range names {
		if name == AllName {
			hasAll = true
		}
	}
	if hasAll {
		if len(names) > 1 {
			return nil, fmt.Errorf("if NAME %q is specified, it must be the only NAME", AllName)
		}
		result := make([]Name, len(All))
		copy(result, All)
		return result, nil
	}

	seen := make(map[Name]bool, len(names))
	result := make([]Name, 0, len(names))
	for _, name := range names {
		parsed, err := Parse(name)
		if err != nil {
			return nil, err
		}
		if !seen[parsed] {
			seen[parsed] = true
			result = append(result, parsed)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

func joinNames() string {
	joined := ""
	for i, name := range All {
		if i > 0 {
			joined += ", "
		}
		joined += string(name)
	}
	return joined
}
