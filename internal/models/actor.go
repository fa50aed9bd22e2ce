package models

// ActorRole identifies the coordination role an actor plays in the
// simulation. Roles form a closed set; there is no open-ended inheritance.
type ActorRole string

const (
	RoleCharacter    ActorRole = "character"
	RoleDirector     ActorRole = "director"
	RoleSceneManager ActorRole = "scene_manager"
	RoleObserver     ActorRole = "observer"
)

// StoryRole describes a character actor's narrative weight.
type StoryRole string

const (
	StoryRoleProtagonist StoryRole = "protagonist"
	StoryRoleAntagonist  StoryRole = "antagonist"
	StoryRoleSupporting  StoryRole = "supporting"
	StoryRoleMinor       StoryRole = "minor"
)

// Capability tags what an actor can be asked to do.
type Capability string

const (
	CapabilityContribute Capability = "produce-contribution"
	CapabilityObserve    Capability = "observe"
)

// ActorProfile is the private attribute bundle driving an actor's behavior.
// Relationships map other actor ids to a short relationship description.
type ActorProfile struct {
	Background     string            `json:"background"`
	Traits         []string          `json:"traits"`
	Secrets        []string          `json:"secrets"`
	Motivation     string            `json:"motivation"`
	SecondaryGoals []string          `json:"secondary_goals,omitempty"`
	Fears          []string          `json:"fears,omitempty"`
	Relationships  map[string]string `json:"relationships,omitempty"`
}

// Actor is an autonomous participant in the simulation. Actors are never
// destroyed; deactivation removes them from active-scene sets only.
type Actor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Role         ActorRole    `json:"role"`
	StoryRole    StoryRole    `json:"story_role"`
	Capabilities []Capability `json:"capabilities"`
	Profile      ActorProfile `json:"profile"`
	Active       bool         `json:"active"`
}

// CanContribute reports whether the actor may be dispatched a turn.
func (a *Actor) CanContribute() bool {
	if !a.Active {
		return false
	}
	for _, c := range a.Capabilities {
		if c == CapabilityContribute {
			return true
		}
	}
	return false
}
