package catalog

// Question is a single quiz question with its answer options.
type Question struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

// Quiz is an authored quiz. Immutable once a session starts; the live
// engine only reads it.
type Quiz struct {
	ID        int64
	ChatID    int64
	Title     string
	Questions []Question
}

// Summary is a lightweight quiz reference used for title matching.
type Summary struct {
	ID    int64
	Title string
}

// CreateParams carries a validated quiz ready for persistence.
type CreateParams struct {
	ChatID    int64
	Title     string
	Questions []Question
}
