// Package europepmc queries the Europe PMC REST API for preprint records.
// Every record it returns comes from a preprint server (SRC:PPR), so the
// adapter returns nothing when a query excludes preprints.
package europepmc

// SearchResponse is the top-level Europe PMC search response.
type SearchResponse struct {
	HitCount       int        `json:"hitCount"`
	NextCursorMark string     `json:"nextCursorMark"`
	ResultList     ResultList `json:"resultList"`
}

// ResultList wraps the array of article results.
type ResultList struct {
	Result []Article `json:"result"`
}

// Article is a single article in the Europe PMC core response.
type Article struct {
	ID                   string           `json:"id"`
	Source               string           `json:"source"` // "PPR"
	PMID                 string           `json:"pmid"`
	PMCID                string           `json:"pmcid"`
	DOI                  string           `json:"doi"`
	Title                string           `json:"title"`
	AuthorString         string           `json:"authorString"` // "Author A, Author B."
	JournalTitle         string           `json:"journalTitle"`
	PubYear              string           `json:"pubYear"`
	AbstractText         string           `json:"abstractText"`
	IsOpenAccess         string           `json:"isOpenAccess"` // "Y"/"N"
	CitedByCount         int              `json:"citedByCount"`
	FirstPublicationDate string           `json:"firstPublicationDate"` // "2024-01-15"
	PublisherName        string           `json:"publisherName"`        // "bioRxiv", "medRxiv", ...
	PubTypeList          *PubTypeList     `json:"pubTypeList,omitempty"`
	FullTextURLList      *FullTextURLList `json:"fullTextUrlList,omitempty"`
}

// PubTypeList contains the record's publication types.
type PubTypeList struct {
	PubTypes []string `json:"pubType"`
}

// FullTextURLList contains the available full-text locations.
type FullTextURLList struct {
	FullTextURLs []FullTextURL `json:"fullTextUrl"`
}

// FullTextURL is one full-text location.
type FullTextURL struct {
	Availability  string `json:"availability"`
	DocumentStyle string `json:"documentStyle"` // "pdf" or "html"
	Site          string `json:"site"`
	URL           string `json:"url"`
}
