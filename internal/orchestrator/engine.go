package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"narrative-server/internal/config"
	"narrative-server/internal/drama"
	"narrative-server/internal/interfaces"
	"narrative-server/internal/memory"
	"narrative-server/internal/models"
	"narrative-server/internal/monitor"
	"narrative-server/internal/progression"
	"narrative-server/internal/scene"
	"narrative-server/internal/scheduler"
	"narrative-server/internal/story"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Terminal run statuses.
const (
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
)

// recentActionsForCheck is how much history the consistency oracle sees.
const recentActionsForCheck = 5

// SceneSpec describes a scene the engine should open.
type SceneSpec struct {
	Location      string
	TimePeriod    string
	Mood          string
	PresentActors []string
	Objectives    []string
	TensionTarget float64
}

// RunResult is the outcome of one simulation run.
type RunResult struct {
	RunID         string
	Status        string
	Reason        string
	Turns         int
	Interventions int
	Narrative     string
	FinalState    models.StoryState
}

// Options wires the engine's collaborators. Generator and Checkpoints are
// required; the rest degrade gracefully to no-ops when nil.
type Options struct {
	Logger      *zap.Logger
	Config      *config.Config
	Generator   interfaces.Generator
	Consistency interfaces.ConsistencyChecker
	Coherence   interfaces.CoherenceChecker
	Assembler   interfaces.NarrativeAssembler
	Checkpoints interfaces.CheckpointStore
	Archive     interfaces.RunArchiveRepository
	Publisher   interfaces.RunUpdatePublisher
}

// Engine drives one narrative run: it sequences turns, applies
// contributions, keeps the story inside its dramatic envelope, and
// intervenes when the quality monitor reports degradation. All story
// mutation flows through the engine's cycle; actors never mutate shared
// state directly.
type Engine struct {
	runID  string
	cfg    *config.Config
	logger *zap.Logger

	store    *story.Store
	memory   *memory.Index
	tracker  *progression.Tracker
	injector *drama.Injector
	scenes   *scene.Coordinator
	sched    *scheduler.Scheduler
	mon      *monitor.Monitor

	consistency interfaces.ConsistencyChecker
	coherence   interfaces.CoherenceChecker
	assembler   interfaces.NarrativeAssembler
	checkpoints interfaces.CheckpointStore
	archive     interfaces.RunArchiveRepository
	publisher   interfaces.RunUpdatePublisher

	sceneOrdinal  int
	interventions int

	// turns is wall-clock turn count for the run. Unlike the store's turn
	// counter it survives rollbacks, so the ceiling measures real work.
	turns int
}

// NewEngine builds an engine for one run over the given initial state and
// cast.
func NewEngine(state models.StoryState, actors []models.Actor, opts Options) (*Engine, error) {
	if opts.Generator == nil {
		return nil, errors.New("engine requires a generator")
	}
	if opts.Checkpoints == nil {
		return nil, errors.New("engine requires a checkpoint store")
	}
	if opts.Config == nil {
		return nil, errors.New("engine requires a config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runID := uuid.NewString()
	log := logger.Named("Orchestrator").With(zap.String("runID", runID))

	store := story.NewStore(state, logger)
	for _, a := range actors {
		store.RegisterActor(a)
	}
	mem := memory.NewIndex(opts.Config.RelationshipDecay, logger)
	scenes := scene.NewCoordinator(store, mem, logger)
	sched := scheduler.New(store, scenes, opts.Generator,
		opts.Config.GenerationTimeout, opts.Config.RelevanceWindow, opts.Config.SnapshotEvents, logger)
	// A stall excludes an actor only for the scene it happened in.
	scenes.OnSceneEnd(sched.ResetStalls)

	return &Engine{
		runID:    runID,
		cfg:      opts.Config,
		logger:   log,
		store:    store,
		memory:   mem,
		tracker:  progression.NewTracker(store, opts.Config.TensionAdjustStep, logger),
		injector: drama.NewInjector(store, mem, logger),
		scenes:   scenes,
		sched:    sched,
		mon: monitor.New(opts.Config.MonitorInterval, monitor.Thresholds{
			CriticalFlagRate:    opts.Config.CriticalFlagRate,
			MaxTurnFailureRate:  opts.Config.MaxTurnFailureRate,
			LowTensionFloor:     opts.Config.LowTensionFloor,
			MinProgressionRate:  opts.Config.MinProgressionRate,
			MinEngagementProxy:  opts.Config.MinEngagementProxy,
			BorderlineTolerance: opts.Config.BorderlineTolerance,
		}, logger),
		consistency: opts.Consistency,
		coherence:   opts.Coherence,
		assembler:   opts.Assembler,
		checkpoints: opts.Checkpoints,
		archive:     opts.Archive,
		publisher:   opts.Publisher,
	}, nil
}

// RunID returns the engine's run identifier.
func (e *Engine) RunID() string { return e.runID }

// Store exposes the story store for inspection.
func (e *Engine) Store() *story.Store { return e.store }

// Memory exposes the memory index for inspection.
func (e *Engine) Memory() *memory.Index { return e.memory }

// Scenes exposes the scene coordinator.
func (e *Engine) Scenes() *scene.Coordinator { return e.scenes }

// Injector exposes the event injector for directed drama.
func (e *Engine) Injector() *drama.Injector { return e.injector }

// Run executes the simulation from the opening scene until the story
// resolves or the turn ceiling is reached.
func (e *Engine) Run(ctx context.Context, opening SceneSpec) (*RunResult, error) {
	if err := e.openScene(ctx, opening); err != nil {
		return nil, err
	}
	e.logger.Info("Run started",
		zap.String("title", e.store.State().Title),
		zap.String("genre", string(e.store.State().Genre)),
		zap.Int("turnCeiling", e.cfg.TurnCeiling))

	status, reason := StatusIncomplete, "turn ceiling reached"

loop:
	for e.turns < e.cfg.TurnCeiling {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.turns++
		e.store.AdvanceTurn()
		turnsTotal.Inc()

		actor, contribution, err := e.sched.DispatchTurn(ctx)
		switch {
		case errors.Is(err, models.ErrNoEligibleActor):
			reason = "no eligible actors remain"
			break loop
		case err != nil:
			turnFailuresTotal.Inc()
			if errors.Is(err, models.ErrActorStalled) {
				e.publish(ctx, interfaces.RunUpdate{
					RunID: e.runID, Kind: interfaces.UpdateActorStalled,
					Turn: e.store.Turn(), Detail: actor.ID,
				})
			}
			e.observeTurn(actor.ID, true, false)
		default:
			flagged := e.applyContribution(ctx, actor, contribution)
			e.observeTurn(actor.ID, false, flagged)
		}

		e.maintainScene(ctx)
		e.tracker.AutoAdjustTension()

		if e.mon.Due() {
			if req := e.mon.Review(); req != nil {
				e.intervene(ctx, req)
			}
		}

		if st := e.store.State(); st.ResolutionReadiness > e.cfg.ResolutionThreshold &&
			st.DramaticTension < e.cfg.ResolutionTension {
			status, reason = StatusCompleted, "story resolved"
			break
		}
	}

	return e.finish(ctx, status, reason)
}

func (e *Engine) openScene(ctx context.Context, spec SceneSpec) error {
	sc, err := e.scenes.StartScene(spec.Location, spec.TimePeriod, spec.Mood,
		spec.PresentActors, spec.Objectives, spec.TensionTarget)
	if err != nil {
		return err
	}
	if err := e.saveCheckpoint(ctx); err != nil {
		return err
	}
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateSceneStarted,
		Turn: e.store.Turn(), Detail: sc.ID,
		Fields: map[string]interface{}{"location": sc.Location},
	})
	return nil
}

// applyContribution runs the consistency oracle and folds the contribution
// into the logs and memories. Returns whether the oracle flagged it.
func (e *Engine) applyContribution(ctx context.Context, actor models.Actor, c *models.Contribution) bool {
	log := e.logger.With(zap.String("actorID", actor.ID), zap.Int("turn", e.store.Turn()))

	flagged := false
	if e.consistency != nil {
		recent := e.store.Actions()
		if len(recent) > recentActionsForCheck {
			recent = recent[len(recent)-recentActionsForCheck:]
		}
		report, err := e.consistency.CheckConsistency(ctx, actor, *c, recent)
		switch {
		case err != nil:
			log.Warn("Consistency check unavailable", zap.Error(err))
		case !report.Consistent:
			flagged = true
			log.Warn("Contribution flagged inconsistent",
				zap.Float64("score", report.Score),
				zap.Strings("violations", report.Violations))
		}
	}

	if _, err := e.store.AppendAction(models.ActionRecord{
		ActorID: actor.ID,
		Kind:    models.ActionContribution,
		Text:    c.Text,
	}); err != nil {
		log.Error("Failed to append contribution", zap.Error(err))
		return flagged
	}

	impact := 0.3
	if c.Emotion != nil {
		impact = models.Clamp01(c.Emotion.Intensity)
		if _, err := e.store.AppendEmotion(models.EmotionalExpression{
			ActorID:   actor.ID,
			Emotion:   c.Emotion.Emotion,
			Intensity: c.Emotion.Intensity,
		}); err != nil {
			log.Warn("Failed to append emotion", zap.Error(err))
		}
	}

	for _, rev := range c.Revelations {
		if _, err := e.store.AppendRevelation(models.Revelation{
			ActorID:     actor.ID,
			TargetID:    rev.TargetID,
			Description: rev.Description,
			Public:      rev.Public,
		}); err != nil {
			log.Warn("Failed to append revelation", zap.Error(err))
			continue
		}
		participants := []string{}
		if rev.TargetID != "" {
			participants = append(participants, rev.TargetID)
		}
		e.recordMemory(models.MemoryEntry{
			OwnerID:         actor.ID,
			Description:     rev.Description,
			Participants:    participants,
			EmotionalImpact: 0.7,
			Kind:            models.MemorySecret,
			Public:          rev.Public,
			Turn:            e.store.Turn(),
		})
	}

	e.recordMemory(models.MemoryEntry{
		OwnerID:         actor.ID,
		Description:     truncate(c.Text, 240),
		Participants:    e.coPresent(actor.ID),
		EmotionalImpact: impact,
		Kind:            models.MemoryObservation,
		Turn:            e.store.Turn(),
	})

	e.applyTurnProgress()
	return flagged
}

func (e *Engine) recordMemory(entry models.MemoryEntry) {
	if err := e.memory.Record(entry); err != nil {
		e.logger.Warn("Failed to record memory", zap.String("ownerID", entry.OwnerID), zap.Error(err))
	}
}

// applyTurnProgress drifts the progress scalars that match the current act.
func (e *Engine) applyTurnProgress() {
	switch e.tracker.CurrentAct() {
	case 1:
		e.store.ApplyProgress(0.02, 0.005, 0.01, 0)
	case 2:
		e.store.ApplyProgress(0, 0.02, 0.01, 0.005)
	default:
		e.store.ApplyProgress(0, 0, 0.01, 0.02)
	}
}

func (e *Engine) coPresent(actorID string) []string {
	sc, err := e.scenes.ActiveScene()
	if err != nil {
		return nil
	}
	others := make([]string, 0, len(sc.PresentActors))
	for _, id := range sc.PresentActors {
		if id != actorID {
			others = append(others, id)
		}
	}
	return others
}

func (e *Engine) observeTurn(actorID string, failed, flagged bool) {
	present := 0
	if sc, err := e.scenes.ActiveScene(); err == nil {
		present = len(sc.PresentActors)
	}
	e.mon.Observe(monitor.Observation{
		ActorID:         actorID,
		PresentActors:   present,
		Tension:         e.store.State().DramaticTension,
		Progression:     e.tracker.ProgressionRate(),
		ConsistencyFlag: flagged,
		TurnFailed:      failed,
	})
}

// maintainScene transitions to the next scene once every objective of the
// current one is complete, advancing the story beat with it.
func (e *Engine) maintainScene(ctx context.Context) {
	sc, err := e.scenes.ActiveScene()
	if err != nil || len(sc.Objectives) == 0 {
		return
	}
	done, err := e.scenes.ObjectivesComplete()
	if err != nil || !done {
		return
	}

	beat, err := e.tracker.AdvanceBeat()
	if err == nil {
		e.publish(ctx, interfaces.RunUpdate{
			RunID: e.runID, Kind: interfaces.UpdateBeatAdvanced,
			Turn: e.store.Turn(), Detail: beat,
		})
	}

	low, high, rerr := e.tracker.RecommendedTensionRange(e.store.State().CurrentBeat)
	target := sc.TensionTarget
	if rerr == nil {
		target = (low + high) / 2
	}
	next, err := e.scenes.TransitionScene(models.TransitionContinuous, "scene objectives complete",
		sc.Location, sc.TimePeriod, sc.Mood, e.eligibleActors(), nil, target)
	if err != nil {
		e.logger.Error("Scene transition failed", zap.Error(err))
		return
	}
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateSceneEnded,
		Turn: e.store.Turn(), Detail: sc.ID,
	})
	if err := e.saveCheckpoint(ctx); err != nil {
		e.logger.Error("Failed to checkpoint scene boundary", zap.Error(err))
	}
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateSceneStarted,
		Turn: e.store.Turn(), Detail: next.ID,
	})
}

// eligibleActors is the cast for a new scene. Stalled actors stay in it;
// their stalls clear at the boundary.
func (e *Engine) eligibleActors() []string {
	var ids []string
	for _, a := range e.store.Actors() {
		if a.CanContribute() {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// intervene reacts to a quality monitor request: minor findings are logged,
// moderate ones get a corrective dramatic event, critical ones roll the run
// back to the last scene checkpoint after a coherence check.
func (e *Engine) intervene(ctx context.Context, req *models.InterventionRequest) {
	e.interventions++
	interventionsTotal.WithLabelValues(string(req.Severity)).Inc()

	e.logger.Warn("Intervention",
		zap.String("severity", string(req.Severity)),
		zap.Strings("problems", req.Problems))
	if _, err := e.store.AppendAction(models.ActionRecord{
		Kind: models.ActionIntervention,
		Text: fmt.Sprintf("[%s] %s", req.Severity, strings.Join(req.Problems, "; ")),
	}); err != nil {
		e.logger.Error("Failed to log intervention", zap.Error(err))
	}
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateIntervention,
		Turn: e.store.Turn(), Severity: string(req.Severity),
		Detail: strings.Join(req.Problems, "; "),
	})

	switch req.Severity {
	case models.SeverityMinor:
		// Logged above; the story gets a chance to recover on its own.
	case models.SeverityModerate:
		e.correctiveEvent(ctx, req)
	case models.SeverityCritical:
		if !e.rollback(ctx) {
			e.correctiveEvent(ctx, req)
		}
	}
}

func (e *Engine) correctiveEvent(ctx context.Context, req *models.InterventionRequest) {
	if req.Metrics.ProgressionRate < e.cfg.MinProgressionRate {
		if beat, err := e.tracker.AdvanceBeat(); err == nil {
			e.publish(ctx, interfaces.RunUpdate{
				RunID: e.runID, Kind: interfaces.UpdateBeatAdvanced,
				Turn: e.store.Turn(), Detail: beat,
			})
		}
	}

	suggestions := e.injector.SuggestEvents(1)
	if len(suggestions) == 0 {
		return
	}
	ev, err := e.injector.InjectEvent(suggestions[0].Kind, "", e.eligibleActors(), 0.6)
	if err != nil {
		e.logger.Error("Corrective event failed", zap.Error(err))
		return
	}
	eventsInjectedTotal.WithLabelValues(string(ev.Kind)).Inc()
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateEventInjected,
		Turn: e.store.Turn(), Detail: ev.Description,
		Fields: map[string]interface{}{"kind": string(ev.Kind), "tension_delta": ev.TensionDelta},
	})
}

// rollback restores the last scene checkpoint and restarts from a fresh
// scene. Returns false when the rollback could not run and the caller
// should fall back to a softer correction.
func (e *Engine) rollback(ctx context.Context) bool {
	directive := "roll back to the last scene checkpoint and restart the scene"
	if e.coherence != nil {
		report, err := e.coherence.CheckCoherence(ctx, e.store.SnapshotSummary(e.cfg.SnapshotEvents), directive)
		if err != nil {
			e.logger.Warn("Coherence check unavailable, skipping rollback", zap.Error(err))
			return false
		}
		if !report.Coherent {
			e.logger.Warn("Rollback vetoed by coherence check", zap.Strings("plotHoles", report.PlotHoles))
			return false
		}
	}

	cp, err := e.checkpoints.LoadLatest(ctx, e.runID)
	if err != nil {
		e.logger.Error("No checkpoint available for rollback", zap.Error(err))
		return false
	}
	var payload checkpointPayload
	if err := json.Unmarshal(cp.Payload, &payload); err != nil {
		e.logger.Error("Corrupt checkpoint payload", zap.Error(err))
		return false
	}
	if err := e.store.Restore(payload.Story); err != nil {
		e.logger.Error("Failed to restore story snapshot", zap.Error(err))
		return false
	}
	if err := e.memory.Restore(payload.Memory); err != nil {
		e.logger.Error("Failed to restore memory snapshot", zap.Error(err))
		return false
	}

	rollbacksTotal.Inc()
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateRolledBack,
		Turn: e.store.Turn(), Detail: fmt.Sprintf("scene %d", cp.SceneOrdinal),
	})

	// Force a fresh scene so the story does not replay into the same
	// degradation.
	sc, err := e.scenes.ActiveScene()
	if err != nil {
		return true
	}
	next, err := e.scenes.TransitionScene(models.TransitionCut, "rolled back to checkpoint",
		sc.Location, sc.TimePeriod, sc.Mood, e.eligibleActors(), nil, sc.TensionTarget)
	if err != nil {
		e.logger.Error("Post-rollback transition failed", zap.Error(err))
		return true
	}
	if err := e.saveCheckpoint(ctx); err != nil {
		e.logger.Error("Failed to checkpoint after rollback", zap.Error(err))
	}
	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateSceneStarted,
		Turn: e.store.Turn(), Detail: next.ID,
	})
	return true
}

type checkpointPayload struct {
	Story  json.RawMessage `json:"story"`
	Memory json.RawMessage `json:"memory"`
}

func (e *Engine) saveCheckpoint(ctx context.Context) error {
	storySnap, err := e.store.Snapshot()
	if err != nil {
		return err
	}
	memSnap, err := e.memory.Snapshot()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(checkpointPayload{Story: storySnap, Memory: memSnap})
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}

	e.sceneOrdinal++
	return e.checkpoints.Save(ctx, interfaces.Checkpoint{
		RunID:        e.runID,
		SceneOrdinal: e.sceneOrdinal,
		Payload:      payload,
	})
}

func (e *Engine) finish(ctx context.Context, status, reason string) (*RunResult, error) {
	if _, err := e.scenes.EndScene(reason); err != nil && !errors.Is(err, models.ErrNoActiveScene) {
		e.logger.Warn("Failed to end final scene", zap.Error(err))
	}

	narrative := e.assembleNarrative(ctx)
	result := &RunResult{
		RunID:         e.runID,
		Status:        status,
		Reason:        reason,
		Turns:         e.turns,
		Interventions: e.interventions,
		Narrative:     narrative,
		FinalState:    e.store.State(),
	}
	runsTotal.WithLabelValues(status).Inc()

	if e.archive != nil {
		summary := e.store.SnapshotSummary(e.cfg.SnapshotEvents)
		if err := e.archive.SaveRun(ctx, e.runID, status, result.Turns, summary, narrative); err != nil {
			e.logger.Error("Failed to archive run", zap.Error(err))
		} else {
			if err := e.archive.SaveActions(ctx, e.runID, e.store.Actions()); err != nil {
				e.logger.Error("Failed to archive actions", zap.Error(err))
			}
			if err := e.archive.SaveEvents(ctx, e.runID, e.store.Events()); err != nil {
				e.logger.Error("Failed to archive events", zap.Error(err))
			}
		}
	}

	e.publish(ctx, interfaces.RunUpdate{
		RunID: e.runID, Kind: interfaces.UpdateRunTerminated,
		Turn: result.Turns, Detail: reason,
		Fields: map[string]interface{}{"status": status},
	})
	e.logger.Info("Run finished",
		zap.String("status", status),
		zap.String("reason", reason),
		zap.Int("turns", result.Turns),
		zap.Int("interventions", e.interventions))
	return result, nil
}

// assembleNarrative compiles the run into prose via the assembler, falling
// back to the raw contribution log when no assembler is wired.
func (e *Engine) assembleNarrative(ctx context.Context) string {
	actions := e.store.Actions()
	events := e.store.Events()
	if e.assembler != nil {
		narrative, err := e.assembler.AssembleNarrative(ctx, actions, events)
		if err == nil {
			return narrative
		}
		e.logger.Warn("Narrative assembly failed, using raw log", zap.Error(err))
	}

	var b strings.Builder
	for _, a := range actions {
		if a.Kind == models.ActionContribution {
			b.WriteString(a.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (e *Engine) publish(ctx context.Context, update interfaces.RunUpdate) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishRunUpdate(ctx, update); err != nil {
		e.logger.Warn("Failed to publish run update", zap.String("kind", update.Kind), zap.Error(err))
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
