package model

// ExtractedQuote is one evidence quote pulled from a paper by the Evidence
// Extractor, addressable by QuoteID from later stages.
type ExtractedQuote struct {
	QuoteID   string `json:"quote_id"`
	RefNumber int    `json:"ref_number"`
	PaperID   string `json:"paper_id"`
	Text      string `json:"text"`
	Claim     string `json:"claim"`
}

// QuoteSet is the full collation of extracted quotes across all papers,
// ordered ascending by RefNumber regardless of worker completion order.
type QuoteSet struct {
	Quotes []ExtractedQuote `json:"quotes"`
}

// ByID returns the quote with the given ID, or false if absent — used by
// the Section Synthesizer to resolve citation markers and detect the
// dangling-reference case.
func (q QuoteSet) ByID(id string) (ExtractedQuote, bool) {
	for _, quote := range q.Quotes {
		if quote.QuoteID == id {
			return quote, true
		}
	}
	return ExtractedQuote{}, false
}

// SectionPlan is one planned section of the outline, possibly marked as a
// list section that should also receive a comparison Table.
type SectionPlan struct {
	SectionID string   `json:"section_id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	QuoteIDs  []string `json:"quote_ids"`
	IsList    bool     `json:"is_list"`
}

// Outline is the Outline Planner's structured-output result.
type Outline struct {
	Title    string        `json:"title"`
	Sections []SectionPlan `json:"sections"`
}

// CitationMarker ties a span of generated text back to a specific quote and
// the paper reference number it supports.
type CitationMarker struct {
	QuoteID   string `json:"quote_id"`
	RefNumber int    `json:"ref_number"`
}

// GeneratedSection is one section's synthesized prose plus its citations.
type GeneratedSection struct {
	SectionID string           `json:"section_id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Citations []CitationMarker `json:"citations"`
	Table     *Table           `json:"table,omitempty"`
}

// Column is one Table column, named and optionally typed for normalization.
type Column struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"` // "text", "number", "boolean"
}

// Cell is one Table cell value. Normalized is false when normalization
// failed twice and the raw LLM string was retained instead.
type Cell struct {
	Raw        string `json:"raw"`
	Value      string `json:"value"`
	Normalized bool   `json:"normalized"`
}

// Row is one Table row, keyed to the paper it summarizes.
type Row struct {
	RefNumber int    `json:"ref_number"`
	Cells     []Cell `json:"cells"`
}

// Table is the Table Builder's output for a single list-typed section.
type Table struct {
	SectionID string   `json:"section_id"`
	Columns   []Column `json:"columns"`
	Rows      []Row    `json:"rows"`
}
