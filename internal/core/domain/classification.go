package domain

// ClassifierResult is what the remote classifier returned for a text.
type ClassifierResult struct {
	BestLabel    string             `json:"best_label"`
	BestScore    float64            `json:"best_score"`
	Scores       map[string]float64 `json:"per_label_scores,omitempty"`
	ParsedFields map[string]any     `json:"parsed_fields,omitempty"`
}

// ClassifyRequest is sent to the remote classifier.
type ClassifyRequest struct {
	Text            string              `json:"text"`
	CandidateLabels []string            `json:"candidate_labels,omitempty"`
	LabelExamples   map[string][]string `json:"label_examples,omitempty"`
}

// Classification is the resolved document type with the reasoning trail.
type Classification struct {
	Type      DocumentType `json:"document_type"`
	Label     string       `json:"label,omitempty"`
	Score     float64      `json:"score,omitempty"`
	Heuristic string       `json:"heuristic,omitempty"`
	Excluded  bool         `json:"excluded"`
	Degraded  bool         `json:"degraded"`
}
