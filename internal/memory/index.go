package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"narrative-server/internal/models"

	"go.uber.org/zap"
)

// defaultQueryLimit caps recall results when the filter gives no limit.
const defaultQueryLimit = 10

// relationshipGain and relationshipPenalty fold one shared experience into
// a pair's relationship score.
const (
	relationshipGain    = 0.1
	relationshipPenalty = -0.05
)

// Index stores per-actor memories and pairwise relationship scores.
// Memories are append-only; relationship scores drift with shared
// experiences and decay toward neutral between scenes.
type Index struct {
	mu     sync.RWMutex
	logger *zap.Logger

	byOwner map[string][]models.MemoryEntry
	total   int

	relationships map[string]float64
	decay         float64
}

// NewIndex creates an empty memory index. decay is the per-turn fraction
// relationship scores lose toward zero at scene boundaries.
func NewIndex(decay float64, logger *zap.Logger) *Index {
	return &Index{
		logger:        logger.Named("MemoryIndex"),
		byOwner:       make(map[string][]models.MemoryEntry),
		relationships: make(map[string]float64),
		decay:         decay,
	}
}

// Record appends a memory for its owner and folds its emotional impact into
// the relationship score of every participant pair.
func (i *Index) Record(entry models.MemoryEntry) error {
	if entry.OwnerID == "" {
		return fmt.Errorf("%w: memory without owner", models.ErrInvalidState)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.EmotionalImpact = models.Clamp01(entry.EmotionalImpact)

	i.mu.Lock()
	defer i.mu.Unlock()

	i.byOwner[entry.OwnerID] = append(i.byOwner[entry.OwnerID], entry)
	i.total++

	pair := participantPairs(entry.OwnerID, entry.Participants)
	for _, p := range pair {
		i.foldRelationshipLocked(p[0], p[1], entry.EmotionalImpact)
	}

	i.logger.Debug("Memory recorded",
		zap.String("ownerID", entry.OwnerID),
		zap.String("kind", string(entry.Kind)),
		zap.Float64("impact", entry.EmotionalImpact))
	return nil
}

// participantPairs returns every unordered pair among the owner and the
// participants, skipping self-pairs and duplicates.
func participantPairs(ownerID string, participants []string) [][2]string {
	seen := map[string]bool{ownerID: true}
	ids := []string{ownerID}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, p)
	}

	var pairs [][2]string
	for a := 0; a < len(ids); a++ {
		for b := a + 1; b < len(ids); b++ {
			pairs = append(pairs, [2]string{ids[a], ids[b]})
		}
	}
	return pairs
}

// pairKey gives a canonical key for an unordered actor pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func (i *Index) foldRelationshipLocked(a, b string, impact float64) {
	delta := relationshipPenalty
	if impact > 0.5 {
		delta = relationshipGain
	}
	i.relationships[pairKey(a, b)] = clampSigned(i.relationships[pairKey(a, b)] + delta)
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// Recall returns the memories of ownerID visible to viewerID, filtered and
// ranked by emotional impact, then recency. The result is capped at the
// filter limit, defaulting to ten entries.
//
// A memory is visible when the viewer owns it, participated in it, or the
// memory is public.
func (i *Index) Recall(viewerID, ownerID string, filter models.MemoryFilter) []models.MemoryEntry {
	i.mu.RLock()
	defer i.mu.RUnlock()

	keyword := strings.ToLower(filter.Keyword)
	var out []models.MemoryEntry
	for _, m := range i.byOwner[ownerID] {
		if !visibleTo(viewerID, m) {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(m.Description), keyword) {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].EmotionalImpact != out[b].EmotionalImpact {
			return out[a].EmotionalImpact > out[b].EmotionalImpact
		}
		return out[a].Turn > out[b].Turn
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecallAll returns memories from every owner visible to viewerID, ranked
// and capped like Recall.
func (i *Index) RecallAll(viewerID string, filter models.MemoryFilter) []models.MemoryEntry {
	i.mu.RLock()
	owners := make([]string, 0, len(i.byOwner))
	for owner := range i.byOwner {
		owners = append(owners, owner)
	}
	total := i.total
	i.mu.RUnlock()
	sort.Strings(owners)

	var out []models.MemoryEntry
	for _, owner := range owners {
		out = append(out, i.Recall(viewerID, owner, models.MemoryFilter{Kind: filter.Kind, Keyword: filter.Keyword, Limit: total + 1})...)
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].EmotionalImpact != out[b].EmotionalImpact {
			return out[a].EmotionalImpact > out[b].EmotionalImpact
		}
		return out[a].Turn > out[b].Turn
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func visibleTo(viewerID string, m models.MemoryEntry) bool {
	if m.Public || viewerID == m.OwnerID {
		return true
	}
	for _, p := range m.Participants {
		if p == viewerID {
			return true
		}
	}
	return false
}

// RelationshipScore returns the current score for an actor pair in [-1,1].
// Unknown pairs are neutral.
func (i *Index) RelationshipScore(a, b string) float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.relationships[pairKey(a, b)]
}

// DecayRelationships shrinks every relationship score toward zero by a
// factor of (1 - decay) per elapsed turn. Called at scene boundaries with
// the number of turns the scene covered.
func (i *Index) DecayRelationships(turns int) {
	if turns <= 0 || i.decay <= 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	factor := math.Pow(1-i.decay, float64(turns))
	for key, score := range i.relationships {
		i.relationships[key] = score * factor
	}
}

// Count returns the number of stored memories.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.total
}

type indexSnapshot struct {
	Memories      map[string][]models.MemoryEntry `json:"memories"`
	Relationships map[string]float64              `json:"relationships"`
}

// Snapshot serializes all memories and relationship scores.
func (i *Index) Snapshot() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	data, err := json.Marshal(indexSnapshot{
		Memories:      i.byOwner,
		Relationships: i.relationships,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize memory snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the index contents with a previously serialized
// snapshot.
func (i *Index) Restore(data []byte) error {
	var snap indexSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: malformed memory snapshot: %v", models.ErrInvalidState, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.byOwner = snap.Memories
	if i.byOwner == nil {
		i.byOwner = make(map[string][]models.MemoryEntry)
	}
	i.relationships = snap.Relationships
	if i.relationships == nil {
		i.relationships = make(map[string]float64)
	}
	i.total = 0
	for _, ms := range i.byOwner {
		i.total += len(ms)
	}
	return nil
}
