package consensus

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/core/internal/cache"
	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/metrics"
)

// Engine fuses independently-scored source signals into a single directional
// decision. Evaluation is pure given (signals, regime); the cache in front of
// it is a performance optimization only and never alters the result.
type Engine struct {
	cfg     *config.ConsensusConfig
	cache   cache.Cache
	metrics *metrics.Registry
}

// NewEngine creates a consensus engine backed by the given cache.
// metrics may be nil (tests, offline tooling).
func NewEngine(cfg *config.ConsensusConfig, c cache.Cache, m *metrics.Registry) *Engine {
	if c == nil {
		c = cache.NewMemory(cfg.CacheMaxSize)
	}
	return &Engine{cfg: cfg, cache: c, metrics: m}
}

// CalculateConsensus fuses the signal map into one decision. A nil return
// means no actionable consensus: empty input, an exact vote tie, or all-zero
// votes. Ties are a deliberate do-nothing-on-ambiguity policy.
func (e *Engine) CalculateConsensus(signals map[string]domain.SourceSignal, regime string) *domain.ConsensusDecision {
	if len(signals) == 0 {
		log.Debug().Msg("Consensus skipped: empty signal map")
		return nil
	}

	key := cacheKey(signals, regime)
	if cached, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.RecordCacheHit("consensus")
		}
		var decision *domain.ConsensusDecision
		if err := json.Unmarshal(cached, &decision); err == nil {
			return decision
		}
		// Corrupt entry falls through to a fresh computation
	}
	if e.metrics != nil {
		e.metrics.RecordCacheMiss("consensus")
	}

	decision := e.compute(signals, regime)

	if data, err := json.Marshal(decision); err == nil {
		e.cache.Set(key, data, e.cfg.CacheTTL)
	}

	if e.metrics != nil {
		outcome := "none"
		if decision != nil {
			outcome = decision.Direction.String()
		}
		e.metrics.ConsensusEvaluations.WithLabelValues(outcome).Inc()
	}
	return decision
}

func (e *Engine) compute(signals map[string]domain.SourceSignal, regime string) *domain.ConsensusDecision {
	weights := e.cfg.WeightsFor(regime)

	// Only sources with a weight table entry participate; unknown sources
	// are ignored rather than treated as errors.
	active := make([]domain.SourceSignal, 0, len(signals))
	activeWeightSum := 0.0
	for sourceID, sig := range signals {
		w, ok := weights[sourceID]
		if !ok {
			log.Debug().Str("source", sourceID).Msg("Unknown consensus source ignored")
			continue
		}
		sig.SourceID = sourceID
		active = append(active, sig)
		activeWeightSum += w
	}
	if len(active) == 0 || activeWeightSum <= 0 {
		log.Debug().Int("signals", len(signals)).Msg("Consensus skipped: no weighted sources present")
		return nil
	}

	// Deterministic processing order regardless of map iteration
	sort.Slice(active, func(i, j int) bool { return active[i].SourceID < active[j].SourceID })

	// Degenerate one-source case: a single confident source passes through
	// without aggregation.
	if len(active) == 1 {
		s := active[0]
		if s.Direction != domain.DirectionNeutral && s.Confidence >= e.cfg.SingleSourceDirectionalMin {
			return singleSourceDecision(s)
		}
		if s.Direction == domain.DirectionNeutral && s.Confidence >= e.cfg.SingleSourceNeutralMin {
			return singleSourceDecision(s)
		}
	}

	// All-NEUTRAL board with at least one strong neutral: the consensus is
	// genuinely "stand aside" rather than ambiguous.
	allNeutral := true
	strongNeutral := false
	neutralConfSum := 0.0
	for _, s := range active {
		if s.Direction != domain.DirectionNeutral {
			allNeutral = false
			break
		}
		neutralConfSum += s.Confidence
		if s.Confidence >= e.cfg.NeutralStrongMin {
			strongNeutral = true
		}
	}
	if allNeutral && strongNeutral {
		mean := neutralConfSum / float64(len(active))
		return &domain.ConsensusDecision{
			Direction:     domain.DirectionNeutral,
			ConfidencePct: mean * 100,
			SourcesCount:  len(active),
			AgreementPct:  100,
		}
	}

	// Directional votes accumulate first so neutral splitting can see which
	// side currently leads.
	longVote := 0.0
	shortVote := 0.0
	for _, s := range active {
		vote := s.Confidence * weights[s.SourceID]
		switch s.Direction {
		case domain.DirectionLong:
			longVote += vote
		case domain.DirectionShort:
			shortVote += vote
		}
	}

	for _, s := range active {
		if s.Direction != domain.DirectionNeutral {
			continue
		}
		vote := s.Confidence * weights[s.SourceID]
		switch {
		case s.Confidence >= e.cfg.NeutralStrongMin:
			// Strong neutrals lean toward whichever side leads; an exact
			// tie leans LONG, matching the weak-neutral convention.
			leaderShare := e.cfg.NeutralStrongLeaderShare
			if shortVote > longVote {
				shortVote += vote * leaderShare
				longVote += vote * (1 - leaderShare)
			} else {
				longVote += vote * leaderShare
				shortVote += vote * (1 - leaderShare)
			}
		case s.Confidence >= e.cfg.NeutralWeakMin:
			longVote += vote * e.cfg.NeutralWeakLongShare
			shortVote += vote * (1 - e.cfg.NeutralWeakLongShare)
		default:
			// Low-confidence neutrals contribute nothing
		}
	}

	var direction domain.Direction
	var winning float64
	switch {
	case longVote > shortVote && longVote > 0:
		direction = domain.DirectionLong
		winning = longVote
	case shortVote > longVote && shortVote > 0:
		direction = domain.DirectionShort
		winning = shortVote
	default:
		log.Debug().
			Float64("long_vote", longVote).
			Float64("short_vote", shortVote).
			Str("regime", regime).
			Msg("Ambiguous consensus: vote tie or all-zero votes")
		return nil
	}

	agreement := 0.0
	if totalVotes := longVote + shortVote; totalVotes > 0 {
		agreement = winning / totalVotes * 100
	}

	return &domain.ConsensusDecision{
		Direction:      direction,
		ConfidencePct:  winning / activeWeightSum * 100,
		TotalLongVote:  longVote,
		TotalShortVote: shortVote,
		SourcesCount:   len(active),
		AgreementPct:   agreement,
	}
}

func singleSourceDecision(s domain.SourceSignal) *domain.ConsensusDecision {
	d := &domain.ConsensusDecision{
		Direction:     s.Direction,
		ConfidencePct: s.Confidence * 100,
		SourcesCount:  1,
		AgreementPct:  100,
	}
	switch s.Direction {
	case domain.DirectionLong:
		d.TotalLongVote = s.Confidence
	case domain.DirectionShort:
		d.TotalShortVote = s.Confidence
	}
	return d
}

// cacheKey builds a deterministic key from the sorted signal map and regime
func cacheKey(signals map[string]domain.SourceSignal, regime string) string {
	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		s := signals[id]
		fmt.Fprintf(h, "%s|%d|%.6f;", id, s.Direction, s.Confidence)
	}
	fmt.Fprintf(h, "regime=%s", regime)
	return fmt.Sprintf("consensus:%016x", h.Sum64())
}
