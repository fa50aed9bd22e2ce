package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"narrative-server/internal/interfaces"
	"narrative-server/internal/models"
	"narrative-server/internal/scene"
	"narrative-server/internal/story"

	"go.uber.org/zap"
)

// maxConsecutiveFailures is how many failed turns in a row stall an actor.
const maxConsecutiveFailures = 2

// Scheduler picks which actor speaks next and dispatches the turn to the
// generation backend under a deadline. Actors that fail twice in a row are
// stalled and skipped for the rest of the scene; scene boundaries clear
// every stall.
type Scheduler struct {
	logger *zap.Logger
	store  *story.Store
	scenes *scene.Coordinator
	gen    interfaces.Generator

	timeout         time.Duration
	relevanceWindow int
	snapshotEvents  int

	failures  map[string]int
	stalled   map[string]bool
	lastActed map[string]int
}

func New(store *story.Store, scenes *scene.Coordinator, gen interfaces.Generator, timeout time.Duration, relevanceWindow, snapshotEvents int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:          logger.Named("TurnScheduler"),
		store:           store,
		scenes:          scenes,
		gen:             gen,
		timeout:         timeout,
		relevanceWindow: relevanceWindow,
		snapshotEvents:  snapshotEvents,
		failures:        make(map[string]int),
		stalled:         make(map[string]bool),
		lastActed:       make(map[string]int),
	}
}

// Stalled reports whether an actor has been excluded after repeated
// failures.
func (s *Scheduler) Stalled(actorID string) bool {
	return s.stalled[actorID]
}

// Revive clears an actor's stall and failure count.
func (s *Scheduler) Revive(actorID string) {
	delete(s.stalled, actorID)
	delete(s.failures, actorID)
}

// ResetStalls drops every stall and failure count. Registered as the scene
// coordinator's boundary hook: a stall lasts only for the scene it happened
// in.
func (s *Scheduler) ResetStalls() {
	s.stalled = make(map[string]bool)
	s.failures = make(map[string]int)
}

// SelectNext picks the actor for the next turn. Required responders always
// win; among equals, narrative relevance decides, then least recently
// acted, then registration order. Fails with ErrNoEligibleActor when no
// present actor can take a turn.
func (s *Scheduler) SelectNext() (models.Actor, error) {
	sc, err := s.scenes.ActiveScene()
	if err != nil {
		return models.Actor{}, err
	}
	present := make(map[string]bool, len(sc.PresentActors))
	for _, id := range sc.PresentActors {
		present[id] = true
	}

	recent := s.recentText()

	var (
		best      models.Actor
		bestScore = -1.0
		bestLast  = 0
		found     bool
	)
	for _, a := range s.store.Actors() {
		if !present[a.ID] || s.stalled[a.ID] || !a.CanContribute() {
			continue
		}
		score := s.relevance(a, recent)
		if s.scenes.MustRespond(a.ID) {
			score += 1000
		}
		last, acted := s.lastActed[a.ID]
		if !acted {
			last = -1
		}
		// Registration order breaks remaining ties, so only strictly
		// better candidates replace the current best.
		if !found || score > bestScore || (score == bestScore && last < bestLast) {
			best, bestScore, bestLast, found = a, score, last, true
		}
	}
	if !found {
		return models.Actor{}, models.ErrNoEligibleActor
	}
	return best, nil
}

// relevance scores how strongly the recent narrative pulls on an actor:
// +2 per recent line naming them, +1 per line touching their secrets or
// fears.
func (s *Scheduler) relevance(a models.Actor, recent []string) float64 {
	score := 0.0
	name := strings.ToLower(a.Name)
	for _, line := range recent {
		if name != "" && strings.Contains(line, name) {
			score += 2
		}
		for _, secret := range a.Profile.Secrets {
			if keywordHit(line, secret) {
				score += 1
				break
			}
		}
		for _, fear := range a.Profile.Fears {
			if keywordHit(line, fear) {
				score += 1
				break
			}
		}
	}
	return score
}

// keywordHit reports whether any word of the phrase longer than three
// characters appears in the line.
func keywordHit(line, phrase string) bool {
	for _, word := range strings.Fields(strings.ToLower(phrase)) {
		if len(word) > 3 && strings.Contains(line, word) {
			return true
		}
	}
	return false
}

func (s *Scheduler) recentText() []string {
	actions := s.store.Actions()
	if len(actions) > s.relevanceWindow {
		actions = actions[len(actions)-s.relevanceWindow:]
	}
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, strings.ToLower(a.Text))
	}
	return lines
}

// DispatchTurn selects an actor and asks the generation backend for their
// contribution under the configured deadline. Failures and empty
// contributions are logged as turn_failure actions; the second consecutive
// failure stalls the actor for the scene.
func (s *Scheduler) DispatchTurn(ctx context.Context) (models.Actor, *models.Contribution, error) {
	actor, err := s.SelectNext()
	if err != nil {
		return models.Actor{}, nil, err
	}

	log := s.logger.With(zap.String("actorID", actor.ID), zap.Int("turn", s.store.Turn()))

	turnCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	contribution, err := s.gen.Generate(turnCtx, actor.ID, s.store.SnapshotSummary(s.snapshotEvents), actor.Role)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", models.ErrGenerationTimeout, actor.ID, s.timeout)
		} else {
			err = fmt.Errorf("%w: %s: %v", models.ErrGenerationFailed, actor.ID, err)
		}
		return actor, nil, s.recordFailure(actor, log, err)
	}
	if contribution == nil || strings.TrimSpace(contribution.Text) == "" {
		err = fmt.Errorf("%w: %s", models.ErrEmptyContribution, actor.ID)
		return actor, nil, s.recordFailure(actor, log, err)
	}

	s.failures[actor.ID] = 0
	s.lastActed[actor.ID] = s.store.Turn()
	s.scenes.ClearResponse(actor.ID)
	contribution.ActorID = actor.ID
	log.Debug("Turn dispatched", zap.Int("chars", len(contribution.Text)))
	return actor, contribution, nil
}

func (s *Scheduler) recordFailure(actor models.Actor, log *zap.Logger, cause error) error {
	if _, err := s.store.AppendAction(models.ActionRecord{
		ActorID: actor.ID,
		Kind:    models.ActionTurnFailure,
		Text:    cause.Error(),
	}); err != nil {
		log.Error("Failed to log turn failure", zap.Error(err))
	}

	s.failures[actor.ID]++
	if s.failures[actor.ID] >= maxConsecutiveFailures {
		s.stalled[actor.ID] = true
		log.Warn("Actor stalled after repeated failures", zap.Int("failures", s.failures[actor.ID]))
		return fmt.Errorf("%w: %s: %v", models.ErrActorStalled, actor.ID, cause)
	}

	log.Warn("Turn failed", zap.Error(cause))
	return cause
}
