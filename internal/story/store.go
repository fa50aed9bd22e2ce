package story

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"narrative-server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the authoritative mutable record of one simulation run: the
// story state scalars, the actor registry, and the four append-only logs.
// Sequencing of writers is the orchestrator's job; the store only guards
// its own invariants (clamping, monotonic ids, known actor references).
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger

	state      models.StoryState
	actors     map[string]*models.Actor
	actorOrder []string

	events      []models.DramaticEvent
	revelations []models.Revelation
	emotions    []models.EmotionalExpression
	actions     []models.ActionRecord

	seq  int64
	turn int
}

// NewStore creates a store for a fresh run. The timeline is derived from the
// genre when the state carries none, and the current beat is forced onto the
// timeline.
func NewStore(state models.StoryState, logger *zap.Logger) *Store {
	if len(state.Timeline) == 0 {
		state.Timeline = models.TimelineForGenre(state.Genre)
	}
	if !beatOnTimeline(state.Timeline, state.CurrentBeat) {
		state.CurrentBeat = state.Timeline[0]
	}
	state.DramaticTension = models.Clamp01(state.DramaticTension)
	state.SetupProgress = models.Clamp01(state.SetupProgress)
	state.ConflictProgress = models.Clamp01(state.ConflictProgress)
	state.CharacterArc = models.Clamp01(state.CharacterArc)
	state.ResolutionReadiness = models.Clamp01(state.ResolutionReadiness)

	return &Store{
		logger: logger.Named("StoryStore"),
		state:  state,
		actors: make(map[string]*models.Actor),
	}
}

func beatOnTimeline(timeline []string, beat string) bool {
	for _, b := range timeline {
		if b == beat {
			return true
		}
	}
	return false
}

// RegisterActor adds an actor to the run. Re-registering an id overwrites
// the profile but keeps the original declaration position.
func (s *Store) RegisterActor(actor models.Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.actors[actor.ID]; !known {
		s.actorOrder = append(s.actorOrder, actor.ID)
	}
	a := actor
	s.actors[actor.ID] = &a
	s.logger.Debug("Actor registered", zap.String("actorID", actor.ID), zap.String("role", string(actor.Role)))
}

// DeactivateActor marks an actor inactive. Actors are never removed.
func (s *Store) DeactivateActor(actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.actors[actorID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownActor, actorID)
	}
	a.Active = false
	return nil
}

// Actor returns a copy of the actor with the given id.
func (s *Store) Actor(actorID string) (models.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actors[actorID]
	if !ok {
		return models.Actor{}, fmt.Errorf("%w: %s", models.ErrUnknownActor, actorID)
	}
	return *a, nil
}

// Actors returns all actors in declaration order.
func (s *Store) Actors() []models.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Actor, 0, len(s.actorOrder))
	for _, id := range s.actorOrder {
		out = append(out, *s.actors[id])
	}
	return out
}

// HasActor reports whether an actor id is registered.
func (s *Store) HasActor(actorID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actors[actorID]
	return ok
}

// State returns a copy of the current story state.
func (s *Store) State() models.StoryState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneStateLocked()
}

func (s *Store) cloneStateLocked() models.StoryState {
	st := s.state
	st.Timeline = append([]string(nil), s.state.Timeline...)
	return st
}

// Turn returns the current turn counter.
func (s *Store) Turn() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn
}

// AdvanceTurn increments the turn counter and returns the new value.
func (s *Store) AdvanceTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn++
	return s.turn
}

// ApplyTensionDelta shifts dramatic tension by delta, clamped into [0,1],
// and returns the new value.
func (s *Store) ApplyTensionDelta(delta float64, reason string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state.DramaticTension
	s.state.DramaticTension = models.Clamp01(old + delta)
	s.logger.Debug("Tension adjusted",
		zap.Float64("old", old),
		zap.Float64("new", s.state.DramaticTension),
		zap.String("reason", reason))
	return s.state.DramaticTension
}

// SetTension sets dramatic tension to an absolute clamped value.
func (s *Store) SetTension(v float64, reason string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.DramaticTension = models.Clamp01(v)
	s.logger.Debug("Tension set", zap.Float64("tension", s.state.DramaticTension), zap.String("reason", reason))
	return s.state.DramaticTension
}

// ApplyProgress shifts the four progress scalars by the given deltas, each
// clamped independently.
func (s *Store) ApplyProgress(setup, conflict, arc, resolution float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SetupProgress = models.Clamp01(s.state.SetupProgress + setup)
	s.state.ConflictProgress = models.Clamp01(s.state.ConflictProgress + conflict)
	s.state.CharacterArc = models.Clamp01(s.state.CharacterArc + arc)
	s.state.ResolutionReadiness = models.Clamp01(s.state.ResolutionReadiness + resolution)
}

// RaiseProgressFloor lifts progress scalars to at least the given values.
// Negative arguments leave the corresponding scalar untouched. Used by beat
// advancement, where reaching a beat implies a minimum progress level.
func (s *Store) RaiseProgressFloor(setup, conflict, arc, resolution float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if setup >= 0 && s.state.SetupProgress < setup {
		s.state.SetupProgress = models.Clamp01(setup)
	}
	if conflict >= 0 && s.state.ConflictProgress < conflict {
		s.state.ConflictProgress = models.Clamp01(conflict)
	}
	if arc >= 0 && s.state.CharacterArc < arc {
		s.state.CharacterArc = models.Clamp01(arc)
	}
	if resolution >= 0 && s.state.ResolutionReadiness < resolution {
		s.state.ResolutionReadiness = models.Clamp01(resolution)
	}
}

// SetCurrentBeat moves the story to a beat that must already be on the
// timeline.
func (s *Store) SetCurrentBeat(beat string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !beatOnTimeline(s.state.Timeline, beat) {
		return fmt.Errorf("%w: %s", models.ErrUnknownBeat, beat)
	}
	old := s.state.CurrentBeat
	s.state.CurrentBeat = beat
	s.logger.Info("Story beat changed", zap.String("from", old), zap.String("to", beat))
	return nil
}

func (s *Store) nextSeqLocked() int64 {
	s.seq++
	return s.seq
}

func (s *Store) validateActorsLocked(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.actors[id]; !ok {
			return fmt.Errorf("%w: %s", models.ErrUnknownActor, id)
		}
	}
	return nil
}

// AppendEvent appends a dramatic event and returns its sequence id. The
// entry's tension delta is recorded, not applied; applying it is the event
// injector's single-shot responsibility.
func (s *Store) AppendEvent(ev models.DramaticEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateActorsLocked(ev.Affected...); err != nil {
		return 0, err
	}
	ev.Seq = s.nextSeqLocked()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	ev.Turn = s.turn
	s.events = append(s.events, ev)
	return ev.Seq, nil
}

// AppendRevelation appends a revelation entry.
func (s *Store) AppendRevelation(r models.Revelation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateActorsLocked(r.ActorID, r.TargetID); err != nil {
		return 0, err
	}
	r.Seq = s.nextSeqLocked()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.Turn = s.turn
	s.revelations = append(s.revelations, r)
	return r.Seq, nil
}

// AppendEmotion appends an emotional expression entry.
func (s *Store) AppendEmotion(e models.EmotionalExpression) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateActorsLocked(e.ActorID); err != nil {
		return 0, err
	}
	e.Seq = s.nextSeqLocked()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Intensity = models.Clamp01(e.Intensity)
	e.Turn = s.turn
	s.emotions = append(s.emotions, e)
	return e.Seq, nil
}

// AppendAction appends an action record.
func (s *Store) AppendAction(a models.ActionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateActorsLocked(a.ActorID); err != nil {
		return 0, err
	}
	a.Seq = s.nextSeqLocked()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Turn = s.turn
	s.actions = append(s.actions, a)
	return a.Seq, nil
}

// Events returns a copy of the event log in append order.
func (s *Store) Events() []models.DramaticEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DramaticEvent(nil), s.events...)
}

// Revelations returns a copy of the revelation log.
func (s *Store) Revelations() []models.Revelation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Revelation(nil), s.revelations...)
}

// Emotions returns a copy of the emotion log.
func (s *Store) Emotions() []models.EmotionalExpression {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.EmotionalExpression(nil), s.emotions...)
}

// Actions returns a copy of the action log.
func (s *Store) Actions() []models.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ActionRecord(nil), s.actions...)
}

// ActionCount returns the current length of the action log.
func (s *Store) ActionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// SnapshotSummary returns the condensed view used by external collaborators:
// title, genre, beat, tension, and the last n events and actions.
func (s *Store) SnapshotSummary(n int) models.StorySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 10
	}
	events := s.events
	if len(events) > n {
		events = events[len(events)-n:]
	}
	actions := s.actions
	if len(actions) > n {
		actions = actions[len(actions)-n:]
	}

	return models.StorySummary{
		Title:        s.state.Title,
		Genre:        s.state.Genre,
		CurrentBeat:  s.state.CurrentBeat,
		Tension:      s.state.DramaticTension,
		Turn:         s.turn,
		RecentEvents: append([]models.DramaticEvent(nil), events...),
		RecentActs:   append([]models.ActionRecord(nil), actions...),
	}
}

// snapshot is the serialized form of the whole store.
type snapshot struct {
	State       models.StoryState            `json:"state"`
	Actors      []models.Actor               `json:"actors"`
	Events      []models.DramaticEvent       `json:"events"`
	Revelations []models.Revelation          `json:"revelations"`
	Emotions    []models.EmotionalExpression `json:"emotions"`
	Actions     []models.ActionRecord        `json:"actions"`
	Seq         int64                        `json:"seq"`
	Turn        int                          `json:"turn"`
}

// Snapshot serializes the full state and logs. The result round-trips
// through Restore.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	actors := make([]models.Actor, 0, len(s.actorOrder))
	for _, id := range s.actorOrder {
		actors = append(actors, *s.actors[id])
	}
	snap := snapshot{
		State:       s.cloneStateLocked(),
		Actors:      actors,
		Events:      s.events,
		Revelations: s.revelations,
		Emotions:    s.emotions,
		Actions:     s.actions,
		Seq:         s.seq,
		Turn:        s.turn,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize story snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the store contents with a previously serialized
// snapshot. This is the only path that ever shortens the logs; it backs the
// critical-intervention rollback to a scene boundary.
func (s *Store) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: malformed story snapshot: %v", models.ErrInvalidState, err)
	}
	if len(snap.State.Timeline) == 0 || !beatOnTimeline(snap.State.Timeline, snap.State.CurrentBeat) {
		return fmt.Errorf("%w: snapshot beat %q not on timeline", models.ErrInvalidState, snap.State.CurrentBeat)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = snap.State
	s.actors = make(map[string]*models.Actor, len(snap.Actors))
	s.actorOrder = s.actorOrder[:0]
	for i := range snap.Actors {
		a := snap.Actors[i]
		s.actors[a.ID] = &a
		s.actorOrder = append(s.actorOrder, a.ID)
	}
	s.events = snap.Events
	s.revelations = snap.Revelations
	s.emotions = snap.Emotions
	s.actions = snap.Actions
	s.seq = snap.Seq
	s.turn = snap.Turn

	s.logger.Info("Story state restored from snapshot",
		zap.Int64("seq", s.seq),
		zap.Int("turn", s.turn),
		zap.Int("actions", len(s.actions)))
	return nil
}
