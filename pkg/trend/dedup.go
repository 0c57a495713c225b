package trend

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/elonfeng/trendx/pkg/source"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the a an and or but in on at to for of with by
		is are was were be been being have has had do does did will would could
		should may might must can this that these those i you he she it we they
		me him her us them my your his its our their`) {
		stopWords[w] = struct{}{}
	}
}

// DedupConfig bounds the seen-fingerprint set. Zero values keep every
// fingerprint for the lifetime of the Deduplicator.
type DedupConfig struct {
	Window     time.Duration
	MaxEntries int
}

// Deduplicator drops records whose fingerprint was already seen, either
// earlier in the same batch or in any previous batch.
type Deduplicator struct {
	cfg    DedupConfig
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.Mutex
	seen  map[string]time.Time
	order []string // insertion order, oldest first
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator(cfg DedupConfig, logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		seen:   make(map[string]time.Time),
	}
}

// Dedupe returns the first occurrence of every fingerprint not already in
// the seen set, in input order. Returned records carry their Fingerprint.
// The seen set is updated only after the whole batch is processed.
func (d *Deduplicator) Dedupe(records []source.Record) []source.Record {
	if len(records) == 0 {
		return []source.Record{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evictLocked(now)

	unique := make([]source.Record, 0, len(records))
	batch := make(map[string]struct{}, len(records))
	var fresh []string

	for _, r := range records {
		fp := Fingerprint(r.Title, r.URL)
		if _, ok := batch[fp]; ok {
			d.logger.Debug().Str("external_id", r.ExternalID).Msg("duplicate in batch")
			continue
		}
		if _, ok := d.seen[fp]; ok {
			d.logger.Debug().Str("external_id", r.ExternalID).Msg("duplicate of earlier batch")
			continue
		}
		batch[fp] = struct{}{}
		fresh = append(fresh, fp)
		r.Fingerprint = fp
		unique = append(unique, r)
	}

	for _, fp := range fresh {
		d.addLocked(fp, now)
	}
	d.evictLocked(now)

	d.logger.Info().
		Int("original", len(records)).
		Int("unique", len(unique)).
		Int("removed", len(records)-len(unique)).
		Msg("deduplication completed")

	return unique
}

// Seen is a fingerprint and the time it was first seen.
type Seen struct {
	Fingerprint string
	At          time.Time
}

// Seed marks fingerprints as seen at seenAt.
func (d *Deduplicator) Seed(fingerprints []string, seenAt time.Time) {
	entries := make([]Seen, 0, len(fingerprints))
	for _, fp := range fingerprints {
		entries = append(entries, Seen{Fingerprint: fp, At: seenAt})
	}
	d.Restore(entries)
}

// Restore marks fingerprints as seen at their own times, e.g. from persisted
// records after a restart. Entries should be ordered oldest first.
func (d *Deduplicator) Restore(entries []Seen) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, e := range entries {
		if e.Fingerprint == "" {
			continue
		}
		if _, ok := d.seen[e.Fingerprint]; ok {
			continue
		}
		d.addLocked(e.Fingerprint, e.At)
	}
	d.evictLocked(d.now())
}

// Forget removes fingerprints from the seen set so the records they belong
// to are accepted again by the next Dedupe.
func (d *Deduplicator) Forget(fingerprints []string) {
	if len(fingerprints) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	drop := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		if _, ok := d.seen[fp]; ok {
			drop[fp] = struct{}{}
			delete(d.seen, fp)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := d.order[:0]
	for _, fp := range d.order {
		if _, ok := drop[fp]; !ok {
			kept = append(kept, fp)
		}
	}
	d.order = kept
}

// Clear forgets every fingerprint.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]time.Time)
	d.order = nil
	d.logger.Info().Msg("deduplication cache cleared")
}

// Len returns the number of remembered fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) addLocked(fp string, at time.Time) {
	d.seen[fp] = at
	d.order = append(d.order, fp)
}

// evictLocked pops expired entries and entries above MaxEntries from the
// front of the insertion queue.
func (d *Deduplicator) evictLocked(now time.Time) {
	drop := 0
	for drop < len(d.order) {
		fp := d.order[drop]
		expired := d.cfg.Window > 0 && now.Sub(d.seen[fp]) > d.cfg.Window
		overflow := d.cfg.MaxEntries > 0 && len(d.order)-drop > d.cfg.MaxEntries
		if !expired && !overflow {
			break
		}
		delete(d.seen, fp)
		drop++
	}
	if drop > 0 {
		d.order = append([]string(nil), d.order[drop:]...)
	}
}

// NormalizeTitle lower-cases the title, collapses whitespace, strips
// punctuation and removes stop words.
func NormalizeTitle(title string) string {
	// Casers carry state, so each call builds its own.
	text := cases.Lower(language.Und).String(norm.NFC.String(title))
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, text)

	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// Fingerprint is the MD5 hex digest of the normalized title and url joined
// by "|". Normalized titles never contain "|".
func Fingerprint(title, url string) string {
	sum := md5.Sum([]byte(NormalizeTitle(title) + "|" + url))
	return hex.EncodeToString(sum[:])
}
