package models

// AnswerJSON is the structured answer returned for a free-text legal
// question. Citations have already been validated against the retrieved
// evidence by the grounding guard.
type AnswerJSON struct {
	Conclusion        string     `json:"conclusion"`
	Analysis          []string   `json:"analysis"`
	Actions           []string   `json:"actions"`
	Citations         []Citation `json:"citations"`
	Assumptions       []string   `json:"assumptions"`
	FollowUpQuestions []string   `json:"follow_up_questions"`
	Emotion           Emotion    `json:"emotion"`
}

// ChatResponse is the full dialogue turn for the chat endpoint.
type ChatResponse struct {
	SessionID string     `json:"session_id"`
	Text      string     `json:"text"`
	Answer    AnswerJSON `json:"answer"`
	Citations []Citation `json:"citations"`
	Emotion   Emotion    `json:"emotion"`
	AudioURL  *string    `json:"audio_url,omitempty"`

	// NoEvidenceReject carries the grounding verdict into metrics: true
	// when the answer is the fixed refusal. Not part of the wire response.
	NoEvidenceReject bool `json:"-"`
}

// RawAnswer is the structured answer as proposed by the language model,
// before grounding validation. Citations here are chunk id claims.
type RawAnswer struct {
	Conclusion        string   `json:"conclusion"`
	Analysis          []string `json:"analysis"`
	Actions           []string `json:"actions"`
	Citations         []string `json:"citations"`
	Assumptions       []string `json:"assumptions"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	Emotion           Emotion  `json:"emotion"`
}
