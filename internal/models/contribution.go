package models

// DeclaredRevelation is a revelation declared inside a contribution.
type DeclaredRevelation struct {
	Description string `json:"description"`
	TargetID    string `json:"target_id,omitempty"`
	Public      bool   `json:"public"`
}

// DeclaredEmotion is the emotional state an actor declares with a turn.
type DeclaredEmotion struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
}

// Contribution is the structured output of one actor's turn. It is data,
// not a control transfer: the orchestrator decides what happens next.
type Contribution struct {
	ActorID     string               `json:"actor_id"`
	Text        string               `json:"text"`
	Emotion     *DeclaredEmotion     `json:"emotion,omitempty"`
	Actions     []string             `json:"actions,omitempty"`
	Revelations []DeclaredRevelation `json:"revelations,omitempty"`
}
