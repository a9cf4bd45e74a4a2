package protocol

// Passage is one retrieved knowledge-base excerpt.
type Passage struct {
	Text string `json:"text"`
}
