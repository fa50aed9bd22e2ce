package progression

import (
	"fmt"

	"narrative-server/internal/models"
	"narrative-server/internal/story"

	"go.uber.org/zap"
)

// tensionRange is the recommended dramatic tension band for a beat.
type tensionRange struct {
	Low  float64
	High float64
}

// beatTensionRanges maps each standard beat to its recommended band.
// Falling action and resolution deliberately drop back down.
var beatTensionRanges = map[string]tensionRange{
	models.BeatSetup:            {0.1, 0.3},
	models.BeatIncitingIncident: {0.3, 0.5},
	models.BeatFirstPlotPoint:   {0.4, 0.6},
	models.BeatRisingAction:     {0.5, 0.7},
	models.BeatMidpoint:         {0.6, 0.8},
	models.BeatSecondPlotPoint:  {0.7, 0.9},
	models.BeatClimax:           {0.8, 1.0},
	models.BeatFallingAction:    {0.4, 0.6},
	models.BeatResolution:       {0.1, 0.3},
}

// progressFloors lists the minimum progress implied by reaching a beat, in
// the order setup, conflict, arc, resolution. A negative value leaves the
// scalar alone.
var progressFloors = map[string][4]float64{
	models.BeatSetup:            {0.1, -1, -1, -1},
	models.BeatIncitingIncident: {0.5, 0.2, 0.1, -1},
	models.BeatFirstPlotPoint:   {0.8, 0.4, 0.2, -1},
	models.BeatRisingAction:     {1.0, 0.5, 0.4, -1},
	models.BeatMidpoint:         {1.0, 0.7, 0.5, 0.1},
	models.BeatSecondPlotPoint:  {1.0, 0.8, 0.6, 0.3},
	models.BeatClimax:           {1.0, 1.0, 0.8, 0.5},
	models.BeatFallingAction:    {1.0, 1.0, 0.9, 0.7},
	models.BeatResolution:       {1.0, 1.0, 1.0, 0.9},
}

// Tracker advances the story along its beat timeline and keeps dramatic
// tension inside the band the current beat recommends.
type Tracker struct {
	logger *zap.Logger
	store  *story.Store

	adjustStep float64
}

// NewTracker creates a tracker over the given store. adjustStep bounds how
// far one auto-adjustment may move tension.
func NewTracker(store *story.Store, adjustStep float64, logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:     logger.Named("ProgressionTracker"),
		store:      store,
		adjustStep: adjustStep,
	}
}

// IsTerminal reports whether the story sits on the final beat of its
// timeline.
func (t *Tracker) IsTerminal() bool {
	st := t.store.State()
	return st.CurrentBeat == st.Timeline[len(st.Timeline)-1]
}

// CurrentAct returns the act (1..3) the current beat falls into, splitting
// the timeline into thirds.
func (t *Tracker) CurrentAct() int {
	st := t.store.State()
	idx := beatIndex(st.Timeline, st.CurrentBeat)
	act := idx*3/len(st.Timeline) + 1
	if act > 3 {
		act = 3
	}
	return act
}

func beatIndex(timeline []string, beat string) int {
	for i, b := range timeline {
		if b == beat {
			return i
		}
	}
	return 0
}

// AdvanceBeat moves the story to the next beat on the timeline, lifting the
// progress scalars to the floor the new beat implies. Advancing past the
// final beat fails with ErrAlreadyTerminal and changes nothing.
func (t *Tracker) AdvanceBeat() (string, error) {
	st := t.store.State()
	idx := beatIndex(st.Timeline, st.CurrentBeat)
	if idx >= len(st.Timeline)-1 {
		return st.CurrentBeat, fmt.Errorf("%w: story already at %s", models.ErrAlreadyTerminal, st.CurrentBeat)
	}

	next := st.Timeline[idx+1]
	if err := t.store.SetCurrentBeat(next); err != nil {
		return st.CurrentBeat, err
	}
	if floors, ok := progressFloors[next]; ok {
		t.store.RaiseProgressFloor(floors[0], floors[1], floors[2], floors[3])
	}
	t.logger.Info("Beat advanced", zap.String("beat", next), zap.Int("act", t.CurrentAct()))
	return next, nil
}

// RecommendedTensionRange returns the tension band for a beat.
func (t *Tracker) RecommendedTensionRange(beat string) (low, high float64, err error) {
	r, ok := beatTensionRanges[beat]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", models.ErrUnknownBeat, beat)
	}
	return r.Low, r.High, nil
}

// AutoAdjustTension nudges tension toward the current beat's band when it
// has drifted outside, moving at most one adjustment step toward the band's
// midpoint. Returns the resulting tension and whether a change was made.
func (t *Tracker) AutoAdjustTension() (float64, bool) {
	st := t.store.State()
	r, ok := beatTensionRanges[st.CurrentBeat]
	if !ok {
		return st.DramaticTension, false
	}
	if st.DramaticTension >= r.Low && st.DramaticTension <= r.High {
		return st.DramaticTension, false
	}

	mid := (r.Low + r.High) / 2
	delta := mid - st.DramaticTension
	if delta > t.adjustStep {
		delta = t.adjustStep
	} else if delta < -t.adjustStep {
		delta = -t.adjustStep
	}
	now := t.store.ApplyTensionDelta(delta, "auto-adjust toward beat range")
	t.logger.Debug("Tension auto-adjusted",
		zap.String("beat", st.CurrentBeat),
		zap.Float64("tension", now))
	return now, true
}

// ProgressionRate estimates forward motion as the mean of the four progress
// scalars. The quality monitor differences this between turns.
func (t *Tracker) ProgressionRate() float64 {
	st := t.store.State()
	return (st.SetupProgress + st.ConflictProgress + st.CharacterArc + st.ResolutionReadiness) / 4
}
