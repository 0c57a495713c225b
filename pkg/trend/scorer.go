package trend

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/elonfeng/trendx/pkg/source"
)

// ScoringConfig holds the weights and thresholds of the composite score.
// It is passed by value and never mutated by the Scorer.
type ScoringConfig struct {
	RecencyWeight      float64
	AuthorityWeight    float64
	VolumeWeight       float64
	BonusWeight        float64
	TitleQualityWeight float64

	FreshAge      time.Duration // at or below: full recency
	StaleAge      time.Duration // at or above: StaleRecency
	StaleRecency  float64
	VolumeCap     float64 // volume at which the volume signal saturates
	LocalBonus    float64
	GlobalBonus   float64
	BonusCap      float64
	MinTitleRunes int
	MaxTitleRunes int
}

// DefaultScoringConfig returns the standard weights: recency 0.30,
// authority 0.20, volume 0.20, relevance bonus 0.20, title quality 0.10.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		RecencyWeight:      0.30,
		AuthorityWeight:    0.20,
		VolumeWeight:       0.20,
		BonusWeight:        0.20,
		TitleQualityWeight: 0.10,
		FreshAge:           time.Hour,
		StaleAge:           24 * time.Hour,
		StaleRecency:       0.1,
		VolumeCap:          5000,
		LocalBonus:         0.1,
		GlobalBonus:        0.05,
		BonusCap:           0.2,
		MinTitleRunes:      10,
		MaxTitleRunes:      200,
	}
}

// defaultAuthority applies to sources that are not in the active registry.
var defaultAuthority = map[source.Kind]float64{
	source.KindGoogleTrends:    0.9,
	source.KindReddit:          0.8,
	source.KindTwitterTrends:   0.7,
	source.KindYouTubeTrending: 0.6,
	source.KindRSS:             0.5,
}

const unknownAuthority = 0.5

// AuthorityLookup resolves the authority of an active source.
// *source.Registry implements it.
type AuthorityLookup interface {
	Authority(kind source.Kind) (float64, bool)
}

// Breakdown is the per-signal view of a record's raw score.
type Breakdown struct {
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
	Volume       float64 `json:"volume"`
	Bonus        float64 `json:"bonus"`
	TitleQuality float64 `json:"title_quality"`
	Raw          float64 `json:"raw"`
}

// Scorer assigns composite relevance scores and ranks batches.
type Scorer struct {
	cfg     ScoringConfig
	sources AuthorityLookup
	now     func() time.Time
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithClock replaces time.Now for recency computation.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a Scorer. sources may be nil, in which case every
// authority comes from the static table.
func NewScorer(cfg ScoringConfig, sources AuthorityLookup, opts ...ScorerOption) *Scorer {
	s := &Scorer{cfg: cfg, sources: sources, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the scoring configuration in use.
func (s *Scorer) Config() ScoringConfig { return s.cfg }

// Score returns a copy of records with Score set, normalized onto [0, 1]
// across the batch and stably sorted by descending score.
func (s *Scorer) Score(records []source.Record) []source.Record {
	if len(records) == 0 {
		return records
	}

	out := make([]source.Record, len(records))
	copy(out, records)

	now := s.now()
	minRaw, maxRaw := math.Inf(1), math.Inf(-1)
	for i := range out {
		raw := s.breakdown(out[i], now).Raw
		out[i].Score = raw
		minRaw = math.Min(minRaw, raw)
		maxRaw = math.Max(maxRaw, raw)
	}

	spread := maxRaw - minRaw
	for i := range out {
		if spread == 0 {
			out[i].Score = 0.5
			continue
		}
		out[i].Score = (out[i].Score - minRaw) / spread
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Breakdown returns the sub-scores and raw (pre-normalization) score of r.
func (s *Scorer) Breakdown(r source.Record) Breakdown {
	return s.breakdown(r, s.now())
}

func (s *Scorer) breakdown(r source.Record, now time.Time) Breakdown {
	b := Breakdown{
		Recency:      s.recency(now.Sub(r.CreatedAt)),
		Authority:    s.authority(r.Source),
		Volume:       s.volume(r.SocialVolume),
		Bonus:        s.bonus(r.IsLocal, r.IsGlobal),
		TitleQuality: s.titleQuality(r.Title),
	}
	raw := b.Recency*s.cfg.RecencyWeight +
		b.Authority*s.cfg.AuthorityWeight +
		b.Volume*s.cfg.VolumeWeight +
		b.Bonus*s.cfg.BonusWeight +
		b.TitleQuality*s.cfg.TitleQualityWeight
	b.Raw = math.Min(raw, 1.0)
	return b
}

// recency treats a negative age (clock skew, future timestamps) as fresh.
func (s *Scorer) recency(age time.Duration) float64 {
	if age <= s.cfg.FreshAge {
		return 1.0
	}
	if age >= s.cfg.StaleAge {
		return s.cfg.StaleRecency
	}
	span := (s.cfg.StaleAge - s.cfg.FreshAge).Hours()
	score := 1.0 - (age.Hours()-s.cfg.FreshAge.Hours())/span
	return math.Max(s.cfg.StaleRecency, score)
}

func (s *Scorer) authority(kind source.Kind) float64 {
	if s.sources != nil {
		if a, ok := s.sources.Authority(kind); ok {
			return a
		}
	}
	if a, ok := defaultAuthority[kind]; ok {
		return a
	}
	return unknownAuthority
}

func (s *Scorer) volume(v int) float64 {
	if v <= 0 || s.cfg.VolumeCap <= 0 {
		return 0
	}
	normalized := math.Min(float64(v)/s.cfg.VolumeCap, 1.0)
	return math.Log(1+normalized*9) / math.Log(10)
}

func (s *Scorer) bonus(local, global bool) float64 {
	var b float64
	if local {
		b += s.cfg.LocalBonus
	}
	if global {
		b += s.cfg.GlobalBonus
	}
	return math.Min(b, s.cfg.BonusCap)
}

func (s *Scorer) titleQuality(title string) float64 {
	n := utf8.RuneCountInString(title)
	if n < s.cfg.MinTitleRunes {
		return 0.3
	}
	if n > s.cfg.MaxTitleRunes {
		return 0.5
	}

	first, _ := utf8.DecodeRuneInString(title)
	score := 0.5
	if unicode.IsUpper(first) {
		score = 0.7
	}
	if strings.ContainsRune(title, '?') {
		score += 0.1
	}
	if strings.IndexFunc(title, unicode.IsDigit) >= 0 {
		score += 0.1
	}
	if strings.Count(title, "!") > 2 || strings.Count(title, "?") > 2 {
		score -= 0.1
	}
	return math.Max(0, math.Min(1, score))
}
