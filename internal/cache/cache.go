// Package cache reuses AI judgments for near-duplicate prompts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/model"
)

const (
	// DefaultThreshold is the minimum cosine similarity for a hit.
	DefaultThreshold = 0.85
	// DefaultTTL is how long an entry is eligible for matching.
	DefaultTTL = time.Hour
)

// Entry is one cached judgment.
type Entry struct {
	Key        string         `json:"key"`
	Kind       model.Operator `json:"kind"`
	Prompt     string         `json:"prompt"`
	FieldValue string         `json:"field_value"`
	Embedding  []float64      `json:"embedding"`
	Result     model.Judgment `json:"result"`
	CreatedAt  time.Time      `json:"created_at"`
	Hits       int64          `json:"hits"`
}

// Store holds cache entries. Implementations must be safe for concurrent use.
type Store interface {
	// Candidates returns the entries for kind whose field value equals
	// fieldValue exactly. Expired entries may be included.
	Candidates(ctx context.Context, kind model.Operator, fieldValue string) ([]Entry, error)
	Put(ctx context.Context, e Entry, ttl time.Duration) error
	IncrementHits(ctx context.Context, key string) error
	All(ctx context.Context) ([]Entry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Clear(ctx context.Context) error
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries    int     `json:"totalEntries"`
	ValidEntries    int     `json:"validEntries"`
	TotalHits       int64   `json:"totalHits"`
	AvgHitsPerEntry float64 `json:"avgHitsPerEntry"`
}

// Option configures a Semantic cache.
type Option func(*Semantic)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t float64) Option {
	return func(s *Semantic) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Semantic) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Semantic matches prompts by trigram-embedding similarity, scoped to an
// operator kind and an exact field value.
type Semantic struct {
	store     Store
	threshold float64
	ttl       time.Duration
	now       func() time.Time
}

// New creates a Semantic cache over store.
func New(store Store, opts ...Option) *Semantic {
	s := &Semantic{
		store:     store,
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Lookup returns the most similar live entry for (kind, fieldValue) when
// its similarity to prompt reaches the threshold. Store errors are logged
// and reported as a miss.
func (s *Semantic) Lookup(ctx context.Context, kind model.Operator, prompt, fieldValue string) (model.Judgment, bool) {
	entries, err := s.store.Candidates(ctx, kind, fieldValue)
	if err != nil {
		zap.L().Warn("cache lookup failed", zap.Error(err))
		return model.Judgment{}, false
	}

	emb := Embed(prompt)
	cutoff := s.now().Add(-s.ttl)

	var best *Entry
	bestSim := 0.0
	for i := range entries {
		e := &entries[i]
		if e.CreatedAt.Before(cutoff) || e.FieldValue != fieldValue {
			continue
		}
		if sim := Cosine(emb, e.Embedding); sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	if best == nil || bestSim < s.threshold {
		return model.Judgment{}, false
	}

	if err := s.store.IncrementHits(ctx, best.Key); err != nil {
		zap.L().Warn("cache hit count failed", zap.String("key", best.Key), zap.Error(err))
	}
	zap.L().Debug("cache hit",
		zap.String("kind", string(kind)),
		zap.Float64("similarity", bestSim),
		zap.String("prompt", prompt),
		zap.String("matched_prompt", best.Prompt),
	)

	j := best.Result
	j.Cached = true
	return j, true
}

// Put stores a judgment for (kind, prompt, fieldValue), replacing any
// previous entry for the same triple.
func (s *Semantic) Put(ctx context.Context, kind model.Operator, prompt, fieldValue string, j model.Judgment) error {
	j.Err = nil
	j.Cached = false
	e := Entry{
		Key:        EntryKey(kind, prompt, fieldValue),
		Kind:       kind,
		Prompt:     prompt,
		FieldValue: fieldValue,
		Embedding:  Embed(prompt),
		Result:     j,
		CreatedAt:  s.now(),
	}
	return eris.Wrap(s.store.Put(ctx, e, s.ttl), "cache: put")
}

// Stats reports entry counts and hit totals. Hits are summed over live
// entries only.
func (s *Semantic) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.store.All(ctx)
	if err != nil {
		return Stats{}, eris.Wrap(err, "cache: stats")
	}
	cutoff := s.now().Add(-s.ttl)
	st := Stats{TotalEntries: len(entries)}
	for _, e := range entries {
		if e.CreatedAt.Before(cutoff) {
			continue
		}
		st.ValidEntries++
		st.TotalHits += e.Hits
	}
	if st.ValidEntries > 0 {
		st.AvgHitsPerEntry = float64(st.TotalHits) / float64(st.ValidEntries)
	}
	return st, nil
}

// ClearExpired removes entries older than the TTL.
func (s *Semantic) ClearExpired(ctx context.Context) (int, error) {
	n, err := s.store.DeleteBefore(ctx, s.now().Add(-s.ttl))
	return n, eris.Wrap(err, "cache: clear expired")
}

// Sweep runs ClearExpired every interval (the TTL when interval is not
// positive) until ctx is cancelled.
func (s *Semantic) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ClearExpired(ctx)
			if err != nil {
				zap.L().Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("cache sweep removed expired entries", zap.Int("removed", n))
			}
		}
	}
}

// Clear removes every entry.
func (s *Semantic) Clear(ctx context.Context) error {
	return eris.Wrap(s.store.Clear(ctx), "cache: clear")
}

// EntryKey derives the storage key of an entry.
func EntryKey(kind model.Operator, prompt, fieldValue string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(fieldValue))
	return hex.EncodeToString(h.Sum(nil))
}

// scopeKey identifies the (kind, fieldValue) bucket candidates are read from.
func scopeKey(kind model.Operator, fieldValue string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + fieldValue))
	return hex.EncodeToString(sum[:])
}
