package models

import "time"

// MemoryKind classifies a memory entry.
type MemoryKind string

const (
	MemoryEvent        MemoryKind = "event"
	MemoryRelationship MemoryKind = "relationship"
	MemorySecret       MemoryKind = "secret"
	MemoryEmotion      MemoryKind = "emotion"
	MemoryObservation  MemoryKind = "observation"
)

// MemoryEntry is one recalled experience owned by a single actor.
// Append-only: entries are never mutated after recording.
type MemoryEntry struct {
	OwnerID         string     `json:"owner_id"`
	Description     string     `json:"description"`
	Participants    []string   `json:"participants"`
	EmotionalImpact float64    `json:"emotional_impact"`
	Kind            MemoryKind `json:"kind"`
	Public          bool       `json:"public"`
	Turn            int        `json:"turn"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MemoryFilter narrows a memory query. Zero values mean "no constraint".
type MemoryFilter struct {
	Kind    MemoryKind
	Keyword string
	Limit   int
}
