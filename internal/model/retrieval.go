package model

// DecomposedQuery is the Query Decomposer's structured-output result: a
// natural-language question turned into a rewritten query (for snippet
// search), a keyword query (for keyword search), and structured retrieval
// filters.
type DecomposedQuery struct {
	RewrittenQuery string   `json:"rewritten_query"`
	KeywordQuery   string   `json:"keyword_query"`
	Filters        Filters  `json:"filters"`
	SectionHints   []string `json:"section_hints,omitempty"`
}

// Filters narrows the paper index search. All fields are optional; year
// range is a half-open interval; venues/authors/fields-of-study are
// unordered sets.
type Filters struct {
	YearMin       int      `json:"year_min,omitempty"`
	YearMax       int      `json:"year_max,omitempty"`
	Venues        []string `json:"venues,omitempty"`
	Authors       []string `json:"authors,omitempty"`
	FieldsOfStudy []string `json:"fields_of_study,omitempty"`
	ResultLimit   int      `json:"result_limit,omitempty"`
	ExcludeTypes  []string `json:"exclude_types,omitempty"`
}

// PaperRecord is a paper as returned by the paper index adapter.
type PaperRecord struct {
	PaperID  string   `json:"paper_id"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	Year     int      `json:"year"`
	Venue    string   `json:"venue,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// CandidatePassage is an unranked passage returned by the paper index for a
// single search form (snippet or keyword). Kind is one of abstract, body,
// title, other; keyword_search hits without a snippet synthesize an
// abstract-kind passage from the paper record.
type CandidatePassage struct {
	PaperID    string  `json:"paper_id"`
	PassageID  string  `json:"passage_id"`
	Text       string  `json:"text"`
	Kind       string  `json:"kind,omitempty"`
	SourceTerm string  `json:"source_term"`
	Score      float64 `json:"score"`
}

// RerankedPassage is a CandidatePassage after scoring by the reranker
// adapter, annotated with its post-rerank rank.
type RerankedPassage struct {
	CandidatePassage
	RerankScore float64 `json:"rerank_score"`
	Rank        int     `json:"rank"`
}

// PaperAggregate groups the surviving reranked passages for one paper,
// assigned a stable reference number used for citation markers. MergedText
// is the deterministic-separator concatenation of the paper's kept
// passages, reused by every later stage (Evidence Extractor, Table
// Builder) instead of each rebuilding its own concatenation.
type PaperAggregate struct {
	RefNumber  int               `json:"ref_number"`
	Paper      PaperRecord       `json:"paper"`
	Passages   []RerankedPassage `json:"passages"`
	MergedText string            `json:"merged_text"`
}
