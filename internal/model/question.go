package model

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionTypeMCQ    QuestionType = "mcq"
	QuestionTypeText   QuestionType = "text"
	QuestionTypeSpeech QuestionType = "speech"
)

// Question is one item within a round. QuestionID is unique within the round and
// stable across re-fetches of the same round.
type Question struct {
	QuestionID   string       `json:"question_id"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	Order        int          `json:"order"`
	Points       float64      `json:"points"`
	Options      []string     `json:"options,omitempty"`
}

// AnswerMap maps a question ID to its current answer text. MCQ answers hold the
// option letter ("A", "B", ...), never the option text.
type AnswerMap map[string]string

// Clone returns an independent copy of m. A nil map clones to an empty map.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
