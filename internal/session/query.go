package session

import (
	"sort"
	"strings"

	"github.com/edhor1608/stead/internal/steaderr"
)

// Filter narrows a session listing.
type Filter struct {
	Sources              []Source // empty means all sources
	ProjectPath          string   // exact match; empty means any
	ProjectPathSubstring string   // case-insensitive substring match; empty means any
	Query                string   // free-text, case-insensitive; matched against title, branch, and timeline text
	Limit                int      // 0 means unlimited
}

func (f Filter) matches(r Record) bool {
	if f.ProjectPath != "" && r.ProjectPath != f.ProjectPath {
		return false
	}
	if f.ProjectPathSubstring != "" && !strings.Contains(strings.ToLower(r.ProjectPath), strings.ToLower(f.ProjectPathSubstring)) {
		return false
	}
	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if r.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Query != "" && !queryMatches(r, f.Query) {
		return false
	}
	return true
}

func queryMatches(r Record, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(r.Title()), q) {
		return true
	}
	if strings.Contains(strings.ToLower(r.Branch), q) {
		return true
	}
	for _, e := range r.Timeline {
		if strings.Contains(strings.ToLower(e.Text), q) {
			return true
		}
	}
	return false
}

// ListResult bundles the normalized records with any per-file diagnostics
// raised while discovering and parsing them.
type ListResult struct {
	Records     []Record
	Diagnostics []Diagnostic
}

// ListSessions discovers and parses every session artifact under the given
// per-source roots, applying filter and returning records sorted by
// last-modified descending, then id ascending to break ties
// deterministically. A corrupt or unreadable file is recorded as a
// Diagnostic rather than aborting the listing. If filter.Limit is positive,
// the result is truncated to the Limit most recent matching records after
// sorting.
func ListSessions(roots map[Source]string, filter Filter) ListResult {
	var result ListResult

	for _, src := range Sources() {
		root, ok := roots[src]
		if !ok || root == "" {
			continue
		}
		adapter, ok := adapterFor(src)
		if !ok {
			continue
		}
		paths, err := adapter.Discover(root)
		if err != nil {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{Path: root, Code: string(steaderr.CodeOf(err)), Err: err})
			continue
		}
		for _, path := range paths {
			rec, err := adapter.Parse(path)
			if err != nil {
				result.Diagnostics = append(result.Diagnostics, Diagnostic{Path: path, Code: string(steaderr.CodeOf(err)), Err: err})
				continue
			}
			if !filter.matches(rec) {
				continue
			}
			result.Records = append(result.Records, rec)
		}
	}

	sort.Slice(result.Records, func(i, j int) bool {
		a, b := result.Records[i], result.Records[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(result.Records) > filter.Limit {
		result.Records = result.Records[:filter.Limit]
	}

	return result
}
