package domain

// Author represents a paper author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// RawCandidate is a provider-native paper record, normalized into the common
// candidate shape by a provider adapter. Candidates are immutable once built;
// the canonicalizer reads them and never writes back.
type RawCandidate struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Year           int        `json:"year,omitempty"`
	Abstract       string     `json:"abstract,omitempty"`
	Authors        []Author   `json:"authors,omitempty"`
	Venue          string     `json:"venue,omitempty"`
	DOI            string     `json:"doi,omitempty"`
	PubmedID       string     `json:"pubmed_id,omitempty"`
	OpenAlexID     string     `json:"openalex_id,omitempty"`
	Source         SourceType `json:"source"`
	CitationCount  int        `json:"citation_count"`
	PDFURL         string     `json:"pdf_url,omitempty"`
	LandingPageURL string     `json:"landing_page_url,omitempty"`
	IsRetracted    bool       `json:"is_retracted,omitempty"`
	PreprintStatus string     `json:"preprint_status,omitempty"`
	// PublicationTypes carries provider-reported type labels
	// (e.g. "Editorial", "JournalArticle") used by the quality filter.
	PublicationTypes []string `json:"publication_types,omitempty"`
	ReferencedIDs    []string `json:"referenced_ids,omitempty"`
	// RankSignal is the provider's own relevance ordinal, 0-based.
	RankSignal int `json:"rank_signal"`
}

// IsPreprint reports whether the candidate is labeled as a preprint.
func (c *RawCandidate) IsPreprint() bool {
	return c.PreprintStatus == PreprintStatusPreprint
}

// ProvenanceEntry records one provider record merged into a canonical paper.
type ProvenanceEntry struct {
	Provider SourceType `json:"provider"`
	RawID    string     `json:"raw_id"`
}

// QualityDecision is the quality filter's verdict for a canonical paper.
type QualityDecision struct {
	HardRejected  bool        `json:"hard_rejected"`
	RejectReasons []string    `json:"reject_reasons,omitempty"`
	QualityTier   QualityTier `json:"quality_tier,omitempty"`
}

// CanonicalPaper is the single merged identity representing one real-world
// paper across providers. Exactly one exists per real paper among all raw
// candidates fed into the canonicalizer; Provenance length equals the number
// of distinct candidates merged in.
type CanonicalPaper struct {
	PaperID        string            `json:"paper_id"`
	Title          string            `json:"title"`
	Year           int               `json:"year,omitempty"`
	Abstract       string            `json:"abstract,omitempty"`
	Authors        []Author          `json:"authors,omitempty"`
	Venue          string            `json:"venue,omitempty"`
	DOI            string            `json:"doi,omitempty"`
	PubmedID       string            `json:"pubmed_id,omitempty"`
	OpenAlexID     string            `json:"openalex_id,omitempty"`
	CitationCount  int               `json:"citation_count"`
	PDFURL         string            `json:"pdf_url,omitempty"`
	LandingPageURL string            `json:"landing_page_url,omitempty"`
	IsRetracted    bool              `json:"is_retracted"`
	IsPreprint     bool              `json:"is_preprint"`
	Provenance     []ProvenanceEntry `json:"provenance"`
	RelevanceScore float64           `json:"relevance_score,omitempty"`
	Quality        QualityDecision   `json:"quality"`
	// PublicationTypes is the union of provider type labels seen for this paper.
	PublicationTypes []string `json:"publication_types,omitempty"`
	// Arrival is the zero-based order in which the paper was first seen by the
	// canonicalizer. The ranker's stable sort breaks ties with it.
	Arrival int `json:"-"`
}

// AddPublicationTypes appends labels not already present.
func (p *CanonicalPaper) AddPublicationTypes(types []string) {
	for _, t := range types {
		found := false
		for _, existing := range p.PublicationTypes {
			if existing == t {
				found = true
				break
			}
		}
		if !found {
			p.PublicationTypes = append(p.PublicationTypes, t)
		}
	}
}
