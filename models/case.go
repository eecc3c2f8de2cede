package models

// CaseState is one stage of the case simulation state machine.
// Transitions only move forward; completed is terminal.
type CaseState string

const (
	StateFactConfirm         CaseState = "fact_confirm"
	StateDisputeIdentify     CaseState = "dispute_identify"
	StateOptionSelect        CaseState = "option_select"
	StateConsequenceFeedback CaseState = "consequence_feedback"
	StateCompleted           CaseState = "completed"
)

// Emotion is the presentation tone attached to a dialogue response.
type Emotion string

const (
	EmotionCalm       Emotion = "calm"
	EmotionSerious    Emotion = "serious"
	EmotionSupportive Emotion = "supportive"
	EmotionWarning    Emotion = "warning"
)

// BoolSlotRule extracts a boolean fact slot from free text. Negative
// keywords take precedence over positive ones.
type BoolSlotRule struct {
	Slot     string
	Positive []string
	Negative []string
}

// KeywordChoice maps a discrete choice to the keywords that imply it.
// Rules are checked in declaration order; the first match wins.
type KeywordChoice struct {
	Choice   string
	Keywords []string
}

// FeedbackRule selects a canned advisory text for a chosen action. The
// first rule whose action and slot conditions match wins.
type FeedbackRule struct {
	Action        string
	WhenSlotTrue  []string
	WhenSlotFalse []string
	Text          string
}

// CaseTemplate is the immutable, declarative definition of one dispute
// template: fact slots, extraction tables, stage options and all product
// copy. Registered once at process start.
type CaseTemplate struct {
	CaseID            string
	FactSlots         []string
	RequiredFactSlots []string
	SlotQuestions     map[string]string

	FactIntroOpening  string
	FactIntroFollowup string
	FactConfirmedText string

	DisputeQuestion string
	DisputeActions  []string
	OptionQuestion  string
	OptionActions   []string

	CompletionQuestion string
	CompletionActions  []string
	NoEvidenceQuestion string
	NoEvidenceActions  []string

	// Slot extraction tables (fact_confirm stage).
	BoolSlots        []BoolSlotRule
	AmountSlot       string
	EvidenceKeywords map[string][]string

	// Choice inference tables (later stages).
	DisputeKeywords []KeywordChoice
	ActionKeywords  []KeywordChoice

	// Stage-specific retrieval query templates. Placeholders are
	// {slot} or {slot|default}, interpolated from session slots.
	StageQueries map[CaseState]string

	FeedbackRules   []FeedbackRule
	DefaultFeedback string
}

// CaseSession is the durable per-session dialogue state. It is owned
// exclusively by the case service for the duration of one turn.
type CaseSession struct {
	SessionID string         `json:"session_id"`
	CaseID    string         `json:"case_id"`
	State     CaseState      `json:"state"`
	Slots     map[string]any `json:"slots"`
	Path      []string       `json:"path"`
}

// CaseResponse is one assembled dialogue turn.
type CaseResponse struct {
	SessionID    string         `json:"session_id"`
	CaseID       string         `json:"case_id"`
	Text         string         `json:"text"`
	NextQuestion *string        `json:"next_question,omitempty"`
	State        CaseState      `json:"state"`
	Slots        map[string]any `json:"slots"`
	Path         []string       `json:"path"`
	MissingSlots []string       `json:"missing_slots"`
	NextActions  []string       `json:"next_actions"`
	Citations    []Citation     `json:"citations"`
	Emotion      Emotion        `json:"emotion"`
	AudioURL     *string        `json:"audio_url,omitempty"`

	// NoEvidenceReject is true only when a conclusion-bearing stage was
	// refused for lack of citable evidence. Re-prompt turns that never
	// attempt a conclusion leave it false. Recorded in metrics, not part
	// of the wire response.
	NoEvidenceReject bool `json:"-"`
}
