package identifier_test

import (
	"strings"
	"testing"

	"github.com/kaneko-ai/conductor/identifier"
)

func TestNormalize_Canonical(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantKind  identifier.Kind
		wantCanon string
	}{
		{"bare DOI", "10.1038/s41586-021-03819-2", identifier.KindDOI, "10.1038/s41586-021-03819-2"},
		{"DOI prefix", "doi:10.1000/XYZ", identifier.KindDOI, "10.1000/xyz"},
		{"DOI URL", "https://doi.org/10.1000/182", identifier.KindDOI, "10.1000/182"},
		{"dx DOI URL", "http://dx.doi.org/10.1000/182?utm=x", identifier.KindDOI, "10.1000/182"},
		{"bare PMID", "12345678", identifier.KindPMID, "pmid:12345678"},
		{"pmid prefix", "PMID:99", identifier.KindPMID, "pmid:99"},
		{"PubMed URL", "https://pubmed.ncbi.nlm.nih.gov/31452104/", identifier.KindPMID, "pmid:31452104"},
		{"arxiv prefix", "arXiv:2301.00001", identifier.KindArXiv, "arxiv:2301.00001"},
		{"arxiv abs URL", "https://arxiv.org/abs/2301.00001", identifier.KindArXiv, "arxiv:2301.00001"},
		{"arxiv pdf URL", "https://arxiv.org/pdf/2301.00001.pdf", identifier.KindArXiv, "arxiv:2301.00001"},
		{"bare arxiv id", "2301.00001", identifier.KindArXiv, "arxiv:2301.00001"},
		{"old style arxiv", "hep-th/9901001", identifier.KindArXiv, "arxiv:hep-th/9901001"},
		{"corpus id", "CorpusId:2314128", identifier.KindS2, "CorpusId:2314128"},
		{"s2 short prefix", "s2:649def34f8be52c8b66281af98ae884c09aef38b", identifier.KindS2, "S2PaperId:649def34f8be52c8b66281af98ae884c09aef38b"},
		{"s2 URL", "https://www.semanticscholar.org/paper/abc/649def34f8be52c8b66281af98ae884c09aef38b", identifier.KindS2, "S2PaperId:649def34f8be52c8b66281af98ae884c09aef38b"},
		{"quoted input", `"doi:10.1/a"`, identifier.KindDOI, "10.1/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := identifier.Normalize(tt.input)
			if !got.Valid() {
				t.Fatalf("Normalize(%q) errors: %v", tt.input, got.Errors)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Canonical != tt.wantCanon {
				t.Errorf("Canonical = %q, want %q", got.Canonical, tt.wantCanon)
			}
		})
	}
}

func TestNormalize_URLExtractionWarns(t *testing.T) {
	got := identifier.Normalize("https://doi.org/10.1000/182")
	if len(got.Warnings) == 0 {
		t.Fatal("expected a warning for DOI extracted from URL")
	}
}

func TestNormalize_Unknown(t *testing.T) {
	for _, input := range []string{"", "   ", "not an identifier!", "%%%"} {
		got := identifier.Normalize(input)
		if got.Valid() {
			t.Errorf("Normalize(%q) valid, want errors", input)
		}
		if got.Kind != identifier.KindUnknown {
			t.Errorf("Normalize(%q).Kind = %q, want unknown", input, got.Kind)
		}
		if got.Err() == nil {
			t.Errorf("Normalize(%q).Err() = nil, want error", input)
		}
	}
}

func TestNormalize_ErrJoinsAll(t *testing.T) {
	got := identifier.Normalize("pmid:abc")
	if got.Valid() {
		t.Fatal("expected invalid result")
	}
	if !strings.Contains(got.Err().Error(), "pmid must be digits") {
		t.Errorf("Err() = %v, want mention of pmid digits rule", got.Err())
	}
}
