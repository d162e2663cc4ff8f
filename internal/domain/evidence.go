package domain

// CitationAnchor ties an evidence row back to its paper and, when the claim
// came from a specific extracted outcome, that outcome's index.
type CitationAnchor struct {
	PaperID      string `json:"paper_id"`
	OutcomeIndex *int   `json:"outcome_index,omitempty"`
}

// EvidenceRow is one atomic extracted claim. Rows are append-only and never
// mutated after creation.
type EvidenceRow struct {
	PaperID   string         `json:"paper_id"`
	ClaimText string         `json:"claim_text"`
	Anchor    CitationAnchor `json:"citation_anchor"`
}

// BriefSentence is one sentence of the narrative brief. Every sentence cites
// at least one paper present in the evidence table.
type BriefSentence struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}
