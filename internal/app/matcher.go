// internal/app/matcher.go
package app

import (
	"fmt"
	"sort"

	"event_digest_service/internal/domain/digest"
	"event_digest_service/internal/domain/event"
	"event_digest_service/internal/domain/profile"
)

// MatcherConfig carries the tunable scoring constants. The defaults are
// provisional until confirmed against product requirements, so they are
// configuration, not code.
type MatcherConfig struct {
	TopK       int
	GenreBonus float64
	DayBonus   float64
	TimeBonus  float64
	CityBonus  float64
}

// DefaultMatcherConfig returns the provisional scoring constants.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		TopK:       10,
		GenreBonus: 2.0,
		DayBonus:   1.0,
		TimeBonus:  1.0,
		CityBonus:  1.5,
	}
}

// Matcher ranks candidate events for a single profile. It is a pure
// function over its inputs: no I/O, no clock, no shared state, so calls for
// distinct users are safe to run concurrently.
type Matcher struct {
	cfg MatcherConfig
}

func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultMatcherConfig().TopK
	}
	return &Matcher{cfg: cfg}
}

// Score filters, scores, and ranks candidates for one profile. Events
// failing the price filter are excluded before any scoring; events with no
// positive signal are dropped. The result is ordered score descending, ties
// broken by startsAt ascending then id ascending, truncated to TopK.
func (m *Matcher) Score(p *profile.PreferenceProfile, candidates []*event.Event) []digest.MatchScore {
	type scoredEvent struct {
		match digest.MatchScore
		ev    *event.Event
	}
	scored := make([]scoredEvent, 0, len(candidates))

	for _, e := range candidates {
		if !passesPriceFilter(p, e) {
			continue
		}
		ms := m.scoreOne(p, e)
		if ms.Score <= 0 {
			continue // a digest must never contain an event with no matching reason
		}
		scored = append(scored, scoredEvent{match: ms, ev: e})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].match.Score != scored[j].match.Score {
			return scored[i].match.Score > scored[j].match.Score
		}
		if !scored[i].ev.StartsAt.Equal(scored[j].ev.StartsAt) {
			return scored[i].ev.StartsAt.Before(scored[j].ev.StartsAt) // soonest event wins ties
		}
		return scored[i].match.EventID < scored[j].match.EventID
	})

	if len(scored) > m.cfg.TopK {
		scored = scored[:m.cfg.TopK]
	}
	out := make([]digest.MatchScore, len(scored))
	for i, s := range scored {
		out[i] = s.match
	}
	return out
}

// passesPriceFilter applies the hard price constraint: free events need the
// include-free flag OR a configured ceiling; priced events need a ceiling at
// or above the price.
func passesPriceFilter(p *profile.PreferenceProfile, e *event.Event) bool {
	if e.IsFree() && p.IncludeFreeEvents {
		return true
	}
	return p.PriceMaxCents.Valid && e.PriceCents <= p.PriceMaxCents.Int64
}

func (m *Matcher) scoreOne(p *profile.PreferenceProfile, e *event.Event) digest.MatchScore {
	ms := digest.MatchScore{EventID: e.ID, UserID: p.UserID}

	for _, c := range e.Categories {
		if w, ok := p.CategoryWeights[c]; ok && w > 0 {
			ms.Score += w
			ms.Reasons = append(ms.Reasons, fmt.Sprintf("category %s (+%.1f)", c, w))
		}
	}

	genreHits := 0
	for _, g := range e.Genres {
		if p.Genres[g] {
			genreHits++
		}
	}
	if genreHits > 0 {
		bonus := m.cfg.GenreBonus * float64(genreHits)
		ms.Score += bonus
		ms.Reasons = append(ms.Reasons, fmt.Sprintf("%d genre match(es) (+%.1f)", genreHits, bonus))
	}

	if p.PreferredDays[e.StartsAt.Weekday()] {
		ms.Score += m.cfg.DayBonus
		ms.Reasons = append(ms.Reasons, fmt.Sprintf("preferred day %s (+%.1f)", e.StartsAt.Weekday(), m.cfg.DayBonus))
	}

	if p.PreferredTimes[profile.BucketForTime(e.StartsAt)] {
		ms.Score += m.cfg.TimeBonus
		ms.Reasons = append(ms.Reasons, fmt.Sprintf("preferred time %s (+%.1f)", profile.BucketForTime(e.StartsAt), m.cfg.TimeBonus))
	}

	if p.HomeCity.Valid && p.HomeCity.String != "" && e.VenueCity == p.HomeCity.String {
		ms.Score += m.cfg.CityBonus
		ms.Reasons = append(ms.Reasons, fmt.Sprintf("in %s (+%.1f)", e.VenueCity, m.cfg.CityBonus))
	}

	return ms
}
