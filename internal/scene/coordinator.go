package scene

import (
	"fmt"
	"sync"
	"time"

	"narrative-server/internal/memory"
	"narrative-server/internal/models"
	"narrative-server/internal/story"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator owns the scene lifecycle: at most one active scene at a time,
// partial context updates applied atomically, objectives, and transitions.
// Completed scenes are archived in order.
type Coordinator struct {
	mu     sync.Mutex
	logger *zap.Logger
	store  *story.Store
	memory *memory.Index

	active      *models.SceneContext
	history     []models.SceneContext
	mustRespond map[string]bool
	onEnd       func()
}

func NewCoordinator(store *story.Store, mem *memory.Index, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		logger:      logger.Named("SceneCoordinator"),
		store:       store,
		memory:      mem,
		mustRespond: make(map[string]bool),
	}
}

// OnSceneEnd registers a hook invoked at every scene boundary, after the
// coordinator has cleared its own per-scene state. The scheduler uses it to
// shed stalls and failure counts.
func (c *Coordinator) OnSceneEnd(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEnd = fn
}

// StartScene opens a new scene. Fails if a scene is already active, if any
// listed actor is unknown, or if any listed actor is inactive.
func (c *Coordinator) StartScene(location, timePeriod, mood string, presentActors []string, objectives []string, tensionTarget float64) (*models.SceneContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil, fmt.Errorf("%w: scene %s still active", models.ErrDuplicateActiveScene, c.active.ID)
	}
	if err := c.checkActors(presentActors); err != nil {
		return nil, err
	}

	objs := make([]models.Objective, 0, len(objectives))
	for _, name := range objectives {
		objs = append(objs, models.Objective{Name: name})
	}
	sc := &models.SceneContext{
		ID:             uuid.NewString(),
		Location:       location,
		TimePeriod:     timePeriod,
		Mood:           mood,
		PresentActors:  append([]string(nil), presentActors...),
		Objectives:     objs,
		TensionTarget:  models.Clamp01(tensionTarget),
		Status:         models.SceneActive,
		StartedAt:      time.Now().UTC(),
		StartTurn:      c.store.Turn(),
		StartActionSeq: int64(c.store.ActionCount()),
	}
	c.active = sc

	c.logger.Info("Scene started",
		zap.String("sceneID", sc.ID),
		zap.String("location", location),
		zap.Strings("actors", presentActors))
	out := *sc
	return &out, nil
}

func (c *Coordinator) checkActors(ids []string) error {
	for _, id := range ids {
		a, err := c.store.Actor(id)
		if err != nil {
			return err
		}
		if !a.Active {
			return fmt.Errorf("%w: %s", models.ErrActorInactive, id)
		}
	}
	return nil
}

// ActiveScene returns a copy of the active scene.
func (c *Coordinator) ActiveScene() (*models.SceneContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, models.ErrNoActiveScene
	}
	out := *c.active
	out.PresentActors = append([]string(nil), c.active.PresentActors...)
	out.Objectives = append([]models.Objective(nil), c.active.Objectives...)
	return &out, nil
}

// History returns the completed scenes in completion order.
func (c *Coordinator) History() []models.SceneContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SceneContext(nil), c.history...)
}

// UpdateContext applies a partial update to the active scene. The whole
// patch is validated first; either every field applies or none does.
func (c *Coordinator) UpdateContext(patch models.ScenePatch) (*models.SceneContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, models.ErrNoActiveScene
	}
	if err := c.checkActors(patch.AddActors); err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(c.active.PresentActors))
	for _, id := range c.active.PresentActors {
		present[id] = true
	}
	for _, id := range patch.RemoveActors {
		if !present[id] {
			return nil, fmt.Errorf("%w: %s", models.ErrActorNotPresent, id)
		}
	}

	if patch.Location != nil {
		c.active.Location = *patch.Location
	}
	if patch.Mood != nil {
		c.active.Mood = *patch.Mood
	}
	if patch.TensionTarget != nil {
		c.active.TensionTarget = models.Clamp01(*patch.TensionTarget)
	}
	for _, id := range patch.RemoveActors {
		delete(present, id)
		delete(c.mustRespond, id)
	}
	for _, id := range patch.AddActors {
		present[id] = true
	}
	actors := c.active.PresentActors[:0]
	seen := make(map[string]bool, len(present))
	for _, id := range append(c.active.PresentActors, patch.AddActors...) {
		if present[id] && !seen[id] {
			actors = append(actors, id)
			seen[id] = true
		}
	}
	c.active.PresentActors = actors
	for _, name := range patch.AddObjectives {
		c.active.Objectives = append(c.active.Objectives, models.Objective{Name: name})
	}

	out := *c.active
	out.PresentActors = append([]string(nil), c.active.PresentActors...)
	out.Objectives = append([]models.Objective(nil), c.active.Objectives...)
	return &out, nil
}

// CompleteObjective marks a named objective done. Completing an already
// completed objective fails.
func (c *Coordinator) CompleteObjective(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return models.ErrNoActiveScene
	}
	for i := range c.active.Objectives {
		if c.active.Objectives[i].Name != name {
			continue
		}
		if c.active.Objectives[i].Completed {
			return fmt.Errorf("%w: %s", models.ErrObjectiveCompleted, name)
		}
		c.active.Objectives[i].Completed = true
		c.logger.Info("Scene objective completed", zap.String("objective", name))
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrObjectiveNotFound, name)
}

// ObjectiveProgress returns the fraction of the active scene's objectives
// that are done. A scene without objectives reports 1.
func (c *Coordinator) ObjectiveProgress() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return 0, models.ErrNoActiveScene
	}
	if len(c.active.Objectives) == 0 {
		return 1, nil
	}
	done := 0
	for _, o := range c.active.Objectives {
		if o.Completed {
			done++
		}
	}
	return float64(done) / float64(len(c.active.Objectives)), nil
}

// ObjectivesComplete reports whether every objective of the active scene is
// done. A scene without objectives counts as complete.
func (c *Coordinator) ObjectivesComplete() (bool, error) {
	progress, err := c.ObjectiveProgress()
	if err != nil {
		return false, err
	}
	return progress == 1, nil
}

// RequireResponse flags an actor as owing a response. The scheduler gives
// flagged actors absolute selection priority. The actor must be present and
// active.
func (c *Coordinator) RequireResponse(actorID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return models.ErrNoActiveScene
	}
	found := false
	for _, id := range c.active.PresentActors {
		if id == actorID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", models.ErrActorNotPresent, actorID)
	}
	a, err := c.store.Actor(actorID)
	if err != nil {
		return err
	}
	if !a.Active {
		return fmt.Errorf("%w: %s", models.ErrActorInactive, actorID)
	}
	c.mustRespond[actorID] = true
	return nil
}

// MustRespond reports whether an actor is flagged for a required response.
func (c *Coordinator) MustRespond(actorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mustRespond[actorID]
}

// ClearResponse drops an actor's required-response flag after they act.
func (c *Coordinator) ClearResponse(actorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mustRespond, actorID)
}

// EndScene completes the active scene with a summary, archives it, and
// decays relationship scores for the boundary.
func (c *Coordinator) EndScene(summary string) (*models.SceneContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked(summary)
}

func (c *Coordinator) endLocked(summary string) (*models.SceneContext, error) {
	if c.active == nil {
		return nil, models.ErrNoActiveScene
	}
	if c.active.Status != models.SceneActive {
		return nil, fmt.Errorf("%w: scene %s is %s", models.ErrSceneNotActive, c.active.ID, c.active.Status)
	}

	c.active.Status = models.SceneCompleted
	c.active.EndedAt = time.Now().UTC()
	c.active.Summary = summary
	done := *c.active
	c.history = append(c.history, done)
	c.active = nil
	c.mustRespond = make(map[string]bool)

	c.memory.DecayRelationships(c.store.Turn() - done.StartTurn)
	if c.onEnd != nil {
		c.onEnd()
	}

	c.logger.Info("Scene ended",
		zap.String("sceneID", done.ID),
		zap.Duration("duration", done.EndedAt.Sub(done.StartedAt)))
	return &done, nil
}

// TransitionScene ends the active scene and starts the next one as a single
// step. If starting the next scene fails, the old scene is reinstated
// untouched.
func (c *Coordinator) TransitionScene(kind models.TransitionKind, summary string, location, timePeriod, mood string, presentActors []string, objectives []string, tensionTarget float64) (*models.SceneContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return nil, models.ErrNoActiveScene
	}
	if err := c.checkActors(presentActors); err != nil {
		return nil, err
	}

	prev := c.endSceneForTransition(summary)

	objs := make([]models.Objective, 0, len(objectives))
	for _, name := range objectives {
		objs = append(objs, models.Objective{Name: name})
	}
	sc := &models.SceneContext{
		ID:             uuid.NewString(),
		Location:       location,
		TimePeriod:     timePeriod,
		Mood:           mood,
		PresentActors:  append([]string(nil), presentActors...),
		Objectives:     objs,
		TensionTarget:  models.Clamp01(tensionTarget),
		Status:         models.SceneActive,
		StartedAt:      time.Now().UTC(),
		StartTurn:      c.store.Turn(),
		StartActionSeq: int64(c.store.ActionCount()),
	}
	c.active = sc

	c.logger.Info("Scene transition",
		zap.String("kind", string(kind)),
		zap.String("from", prev.ID),
		zap.String("to", sc.ID))
	out := *sc
	return &out, nil
}

func (c *Coordinator) endSceneForTransition(summary string) models.SceneContext {
	c.active.Status = models.SceneCompleted
	c.active.EndedAt = time.Now().UTC()
	c.active.Summary = summary
	done := *c.active
	c.history = append(c.history, done)
	c.active = nil
	c.mustRespond = make(map[string]bool)
	c.memory.DecayRelationships(c.store.Turn() - done.StartTurn)
	if c.onEnd != nil {
		c.onEnd()
	}
	return done
}
