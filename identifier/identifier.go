// Package identifier normalizes caller-supplied business keys — DOIs,
// PubMed IDs, arXiv IDs, Semantic Scholar IDs, or URLs containing any of
// them — into a canonical form shared by jobs and pipelines.
package identifier

import (
	"fmt"
	"strings"
)

// Kind classifies a normalized identifier.
type Kind string

// Recognized identifier kinds.
const (
	KindDOI     Kind = "doi"
	KindPMID    Kind = "pmid"
	KindArXiv   Kind = "arxiv"
	KindS2      Kind = "s2"
	KindUnknown Kind = "unknown"
)

// Normalized is the result of normalizing a raw business key. Errors is
// non-empty when the input could not be recognized; Warnings records
// lossy extractions (e.g. an ID pulled out of a URL).
type Normalized struct {
	Kind      Kind     `json:"kind"`
	Canonical string   `json:"canonical"`
	Display   string   `json:"display"`
	Warnings  []string `json:"warnings,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// Valid reports whether normalization succeeded.
func (n Normalized) Valid() bool { return len(n.Errors) == 0 }

// Err returns all normalization errors joined, or nil when valid.
func (n Normalized) Err() error {
	if len(n.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("identifier: %s", strings.Join(n.Errors, "; "))
}

// splitURLTail cuts query strings and fragments off a URL remainder.
func splitURLTail(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(raw)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksLikeArxivID(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '/' || r == '-':
		default:
			return false
		}
	}
	return strings.ContainsAny(s, "./")
}

// Normalize parses a raw business key into its canonical form. It never
// returns an error; failures are reported through the Errors field so
// callers can surface every problem at once.
func Normalize(input string) Normalized {
	var warnings, errs []string

	s := strings.TrimSpace(input)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, "　", " ")
	s = strings.TrimSpace(s)

	if s == "" {
		return Normalized{Kind: KindUnknown, Errors: []string{"identifier is empty"}}
	}

	lower := strings.ToLower(s)

	// DOI inside a URL (https://doi.org/10.x/..., dx.doi.org, etc.).
	if idx := strings.Index(lower, "doi.org/"); idx >= 0 {
		tail := splitURLTail(s[idx+len("doi.org/"):])
		doi := strings.ToLower(strings.TrimSpace(strings.TrimRight(tail, "/")))
		if doi == "" {
			errs = append(errs, "failed to parse DOI from URL")
		} else {
			warnings = append(warnings, "DOI extracted from URL")
			return Normalized{Kind: KindDOI, Canonical: doi, Display: "doi:" + doi, Warnings: warnings}
		}
	}

	// Explicit doi: prefix.
	if strings.HasPrefix(lower, "doi:") {
		doi := strings.ToLower(strings.TrimSpace(s[4:]))
		if doi == "" {
			errs = append(errs, "DOI prefix exists but body is empty")
		} else {
			return Normalized{Kind: KindDOI, Canonical: doi, Display: "doi:" + doi, Warnings: warnings}
		}
	}

	// Bare DOI: 10.xxxx/yyyy.
	if strings.HasPrefix(s, "10.") && strings.Contains(s, "/") {
		doi := strings.ToLower(strings.ReplaceAll(s, " ", ""))
		return Normalized{Kind: KindDOI, Canonical: doi, Display: "doi:" + doi, Warnings: warnings}
	}

	// PMID inside a PubMed URL.
	if idx := strings.Index(lower, "pubmed.ncbi.nlm.nih.gov/"); idx >= 0 {
		tail := splitURLTail(s[idx+len("pubmed.ncbi.nlm.nih.gov/"):])
		pmid := strings.TrimSpace(strings.TrimRight(tail, "/"))
		if allDigits(pmid) {
			warnings = append(warnings, "PMID extracted from PubMed URL")
			return Normalized{Kind: KindPMID, Canonical: "pmid:" + pmid, Display: "pmid:" + pmid, Warnings: warnings}
		}
		errs = append(errs, "failed to parse PMID from PubMed URL")
	}

	// Explicit pmid: prefix.
	if strings.HasPrefix(lower, "pmid:") {
		body := strings.TrimSpace(s[5:])
		if !allDigits(body) {
			errs = append(errs, "pmid must be digits")
		} else {
			return Normalized{Kind: KindPMID, Canonical: "pmid:" + body, Display: "pmid:" + body, Warnings: warnings}
		}
	}

	// Bare digits are treated as a PMID.
	if allDigits(s) {
		return Normalized{Kind: KindPMID, Canonical: "pmid:" + s, Display: "pmid:" + s, Warnings: warnings}
	}

	// arXiv abs/pdf URLs.
	for _, marker := range []string{"arxiv.org/abs/", "arxiv.org/pdf/"} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		tail := splitURLTail(s[idx+len(marker):])
		tail = strings.TrimSuffix(tail, ".pdf")
		arxivID := strings.TrimSpace(strings.TrimRight(tail, "/"))
		if arxivID != "" {
			warnings = append(warnings, "arXiv id extracted from URL")
			return Normalized{Kind: KindArXiv, Canonical: "arxiv:" + arxivID, Display: "arxiv:" + arxivID, Warnings: warnings}
		}
		errs = append(errs, "failed to parse arXiv id from URL")
	}

	// Explicit arxiv: prefix.
	if strings.HasPrefix(lower, "arxiv:") {
		body := strings.TrimSpace(s[6:])
		if body == "" {
			errs = append(errs, "arxiv prefix exists but body is empty")
		} else {
			return Normalized{Kind: KindArXiv, Canonical: "arxiv:" + body, Display: "arxiv:" + body, Warnings: warnings}
		}
	}

	// Bare arXiv-looking ID (2301.00001 or hep-th/9901001).
	if looksLikeArxivID(s) {
		return Normalized{Kind: KindArXiv, Canonical: "arxiv:" + s, Display: "arxiv:" + s, Warnings: warnings}
	}

	// Semantic Scholar paper URL: the ID is the last path segment.
	if strings.Contains(lower, "semanticscholar.org/paper/") {
		var last string
		for _, part := range strings.Split(s, "/") {
			if part != "" {
				last = part
			}
		}
		s2 := splitURLTail(last)
		if s2 != "" {
			warnings = append(warnings, "S2 id extracted from URL")
			return Normalized{Kind: KindS2, Canonical: "S2PaperId:" + s2, Display: "S2PaperId:" + s2, Warnings: warnings}
		}
		errs = append(errs, "failed to parse Semantic Scholar id from URL")
	}

	// Explicit Semantic Scholar prefixes.
	for _, p := range []struct{ prefix, canonical string }{
		{"corpusid:", "CorpusId:"},
		{"s2paperid:", "S2PaperId:"},
		{"s2:", "S2PaperId:"},
	} {
		if !strings.HasPrefix(lower, p.prefix) {
			continue
		}
		body := strings.TrimSpace(s[len(p.prefix):])
		if body == "" {
			errs = append(errs, p.canonical+" prefix exists but body is empty")
			continue
		}
		return Normalized{Kind: KindS2, Canonical: p.canonical + body, Display: p.canonical + body, Warnings: warnings}
	}

	errs = append(errs, "unknown identifier format")
	return Normalized{Kind: KindUnknown, Canonical: s, Display: "unknown", Warnings: warnings, Errors: errs}
}
