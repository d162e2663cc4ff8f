// Package semanticscholar queries the Semantic Scholar Graph API.
//
// API documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// SearchResponse is the paper search endpoint response.
type SearchResponse struct {
	// Total is the number of papers matching the query.
	Total int `json:"total"`

	// Offset is the position of the first returned paper.
	Offset int `json:"offset"`

	// Next is the offset of the next page; zero means no more results.
	Next int `json:"next"`

	Data []PaperResult `json:"data"`
}

// PaperResult is one paper record.
type PaperResult struct {
	PaperID          string         `json:"paperId"`
	Title            string         `json:"title"`
	Abstract         string         `json:"abstract"`
	Year             int            `json:"year"`
	PublicationDate  string         `json:"publicationDate"`
	Venue            string         `json:"venue"`
	Journal          *Journal       `json:"journal,omitempty"`
	Authors          []Author       `json:"authors"`
	CitationCount    int            `json:"citationCount"`
	ReferenceCount   int            `json:"referenceCount"`
	IsOpenAccess     bool           `json:"isOpenAccess"`
	OpenAccessPDF    *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	PublicationTypes []string       `json:"publicationTypes,omitempty"`
	ExternalIDs      *ExternalIDs   `json:"externalIds,omitempty"`
}

// ExternalIDs carries cross-database identifiers.
type ExternalIDs struct {
	DOI           string `json:"DOI,omitempty"`
	ArXiv         string `json:"ArXiv,omitempty"`
	PubMed        string `json:"PubMed,omitempty"`
	PubMedCentral string `json:"PubMedCentral,omitempty"`
}

// Journal holds journal publication details.
type Journal struct {
	Name   string `json:"name,omitempty"`
	Volume string `json:"volume,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

// Author is a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// OpenAccessPDF points at a freely readable PDF.
type OpenAccessPDF struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// ErrorResponse is the API's error envelope; some endpoints use "error",
// others "message".
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
