package drama

import (
	"fmt"
	"sort"

	"narrative-server/internal/memory"
	"narrative-server/internal/models"
	"narrative-server/internal/story"

	"go.uber.org/zap"
)

// kindWeights scale an event's intensity into a tension delta. Unexpected
// allies can relieve tension; everything else raises it.
var kindWeights = map[models.EventKind]float64{
	models.EventPlotTwist:            0.3,
	models.EventCharacterRevelation:  0.2,
	models.EventConflictEscalation:   0.4,
	models.EventBetrayal:             0.5,
	models.EventRomanticComplication: 0.2,
	models.EventMysteriousOccurrence: 0.3,
	models.EventDeadlinePressure:     0.5,
	models.EventMoralDilemma:         0.2,
	models.EventUnexpectedAlly:       -0.05,
	models.EventMajorSetback:         0.4,
}

const defaultKindWeight = 0.2

// recentUseWindow is how many trailing events count as "recently used" when
// scoring suggestions.
const recentUseWindow = 5

// Suggestion is a ranked event recommendation.
type Suggestion struct {
	Kind           models.EventKind `json:"kind"`
	Description    string           `json:"description"`
	Score          float64          `json:"score"`
	EstimatedDelta float64          `json:"estimated_tension_delta"`
}

// Injector creates dramatic events: it appends the event record, applies
// its tension delta exactly once, and seeds a memory for every affected
// actor.
type Injector struct {
	logger *zap.Logger
	store  *story.Store
	memory *memory.Index

	// used counts injections per kind, driving deterministic template
	// rotation.
	used map[models.EventKind]int
}

func NewInjector(store *story.Store, mem *memory.Index, logger *zap.Logger) *Injector {
	return &Injector{
		logger: logger.Named("EventInjector"),
		store:  store,
		memory: mem,
		used:   make(map[models.EventKind]int),
	}
}

// Weight returns the tension weight for an event kind.
func Weight(kind models.EventKind) float64 {
	if w, ok := kindWeights[kind]; ok {
		return w
	}
	return defaultKindWeight
}

// InjectEvent creates an event of the given kind. The tension delta is
// intensity times the kind weight, applied to the story exactly once here.
// An empty description picks the next genre template for the kind.
// Intensity is clamped into [0,1]; unknown affected actors fail the whole
// injection with no state change.
func (in *Injector) InjectEvent(kind models.EventKind, description string, affected []string, intensity float64) (*models.DramaticEvent, error) {
	intensity = models.Clamp01(intensity)
	if description == "" {
		description = in.pickDescription(kind)
	}
	delta := intensity * Weight(kind)
	return in.inject(models.DramaticEvent{
		Kind:         kind,
		Description:  description,
		Affected:     affected,
		Intensity:    intensity,
		TensionDelta: delta,
	})
}

// InjectSpecificEvent creates an event with an explicit tension delta,
// bypassing the kind weight. The delta must lie in [-1,1].
func (in *Injector) InjectSpecificEvent(kind models.EventKind, description string, affected []string, tensionDelta float64) (*models.DramaticEvent, error) {
	if tensionDelta < -1 || tensionDelta > 1 {
		return nil, fmt.Errorf("%w: tension delta %.2f outside [-1,1]", models.ErrInvalidState, tensionDelta)
	}
	return in.inject(models.DramaticEvent{
		Kind:         kind,
		Description:  description,
		Affected:     affected,
		Intensity:    models.Clamp01(tensionDelta),
		TensionDelta: tensionDelta,
	})
}

func (in *Injector) inject(ev models.DramaticEvent) (*models.DramaticEvent, error) {
	seq, err := in.store.AppendEvent(ev)
	if err != nil {
		return nil, err
	}
	ev.Seq = seq
	ev.Turn = in.store.Turn()

	newTension := in.store.ApplyTensionDelta(ev.TensionDelta, fmt.Sprintf("event %s", ev.Kind))
	in.used[ev.Kind]++

	for _, actorID := range ev.Affected {
		others := make([]string, 0, len(ev.Affected)-1)
		for _, other := range ev.Affected {
			if other != actorID {
				others = append(others, other)
			}
		}
		if err := in.memory.Record(models.MemoryEntry{
			OwnerID:         actorID,
			Description:     ev.Description,
			Participants:    others,
			EmotionalImpact: ev.Intensity,
			Kind:            models.MemoryEvent,
			Turn:            ev.Turn,
		}); err != nil {
			in.logger.Warn("Failed to record event memory", zap.String("actorID", actorID), zap.Error(err))
		}
	}

	in.logger.Info("Dramatic event injected",
		zap.String("kind", string(ev.Kind)),
		zap.Float64("delta", ev.TensionDelta),
		zap.Float64("tension", newTension),
		zap.Int("affected", len(ev.Affected)))
	return &ev, nil
}

// pickDescription rotates deterministically through the genre templates for
// a kind, falling back to generic templates and then a stock line.
func (in *Injector) pickDescription(kind models.EventKind) string {
	genre := in.store.State().Genre
	templates := templatesFor(genre, kind)
	if len(templates) == 0 {
		return defaultDescriptions[kind]
	}
	return templates[in.used[kind]%len(templates)]
}

// SuggestEvents scores every event kind against the current genre, beat and
// tension and returns the top suggestions, best first. Ties rank
// alphabetically by kind so the ordering is stable.
func (in *Injector) SuggestEvents(limit int) []Suggestion {
	st := in.store.State()
	recent := in.recentKinds()

	kinds := make([]models.EventKind, 0, len(kindWeights))
	for kind := range kindWeights {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(a, b int) bool { return kinds[a] < kinds[b] })

	suggestions := make([]Suggestion, 0, len(kinds))
	for _, kind := range kinds {
		score := in.scoreKind(st, kind)
		if recent[kind] {
			score -= 0.1
		}
		suggestions = append(suggestions, Suggestion{
			Kind:           kind,
			Description:    in.previewDescription(st.Genre, kind),
			Score:          score,
			EstimatedDelta: Weight(kind),
		})
	}

	sort.SliceStable(suggestions, func(a, b int) bool {
		if suggestions[a].Score != suggestions[b].Score {
			return suggestions[a].Score > suggestions[b].Score
		}
		return suggestions[a].Kind < suggestions[b].Kind
	})

	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// scoreKind rates an event kind for the current story state: base 0.5, plus
// genre fit, beat fit and tension fit, capped at 1.
func (in *Injector) scoreKind(st models.StoryState, kind models.EventKind) float64 {
	score := 0.5

	if len(genreTemplates[st.Genre][kind]) > 0 {
		score += 0.3
	}

	beatPrefs := map[string][]models.EventKind{
		models.BeatSetup:        {models.EventCharacterRevelation, models.EventMysteriousOccurrence},
		models.BeatRisingAction: {models.EventConflictEscalation, models.EventPlotTwist},
		models.BeatClimax:       {models.EventBetrayal, models.EventMajorSetback},
	}
	for _, preferred := range beatPrefs[st.CurrentBeat] {
		if preferred == kind {
			score += 0.2
		}
	}

	switch {
	case st.DramaticTension < 0.4:
		if kind == models.EventConflictEscalation || kind == models.EventMysteriousOccurrence {
			score += 0.2
		}
	case st.DramaticTension > 0.7:
		if kind == models.EventUnexpectedAlly || kind == models.EventMoralDilemma {
			score += 0.2
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

func (in *Injector) previewDescription(genre models.Genre, kind models.EventKind) string {
	templates := templatesFor(genre, kind)
	if len(templates) == 0 {
		return defaultDescriptions[kind]
	}
	return templates[in.used[kind]%len(templates)]
}

func (in *Injector) recentKinds() map[models.EventKind]bool {
	events := in.store.Events()
	if len(events) > recentUseWindow {
		events = events[len(events)-recentUseWindow:]
	}
	recent := make(map[models.EventKind]bool, len(events))
	for _, ev := range events {
		recent[ev.Kind] = true
	}
	return recent
}
