package urlmapping

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// DefaultConfidenceThreshold accepts a mapping without trying further
// strategies.
const DefaultConfidenceThreshold = 0.6

// Adapter binds a platform to an ordered list of extraction strategies.
type Adapter struct {
	// Name identifies the adapter in mapping provenance.
	Name string

	// Domains are the domain names this adapter recognizes. Each is matched
	// as a case-insensitive substring of the whole URL, not only its host.
	// Empty means the adapter accepts every URL (the generic adapter).
	Domains []string

	// Threshold overrides the service confidence threshold when positive.
	Threshold float64

	// Strategies are tried in priority order.
	Strategies []Strategy
}

// CanHandle reports whether the adapter recognizes the URL.
func (a *Adapter) CanHandle(url string) bool {
	if len(a.Domains) == 0 {
		return true
	}
	lower := strings.ToLower(url)
	for _, d := range a.Domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// Service maps URLs to identifier sets through the adapter registry.
type Service struct {
	adapters  []*Adapter
	threshold float64
	logger    zerolog.Logger
}

// NewService creates a mapping service over the given adapters, in priority
// order. The last adapter should be the generic always-true one.
func NewService(adapters []*Adapter, threshold float64, logger zerolog.Logger) *Service {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Service{
		adapters:  adapters,
		threshold: threshold,
		logger:    logger.With().Str("component", "urlmapping").Logger(),
	}
}

// Map resolves a URL to its identifier set. The first adapter whose
// CanHandle is true runs its strategies in priority order until one yields a
// mapping at or above the confidence threshold; otherwise the best-confidence
// mapping observed wins. Ties are broken by strategy priority and then by
// arrival order. Returns domain.ErrUnsupportedSource when nothing was
// extracted.
func (s *Service) Map(ctx context.Context, url string) (*Mapping, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, domain.NewValidationError("url", "required")
	}

	adapter := s.adapterFor(url)
	if adapter == nil {
		return nil, domain.ErrUnsupportedSource
	}

	threshold := adapter.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}

	strategies := make([]Strategy, len(adapter.Strategies))
	copy(strategies, adapter.Strategies)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() < strategies[j].Priority()
	})

	var best *Mapping
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := strategy.Run(ctx, url)
		if err != nil {
			s.logger.Debug().Err(err).
				Str("adapter", adapter.Name).
				Str("strategy", strategy.Name()).
				Str("url", url).
				Msg("strategy failed")
			continue
		}
		if m == nil {
			continue
		}

		m.Adapter = adapter.Name
		m.Strategy = strategy.Name()

		if m.Confidence >= threshold {
			// Accepted outright; later strategies can only fill gaps through
			// the best-so-far merge below.
			m.merge(best)
			s.logger.Debug().
				Str("adapter", adapter.Name).
				Str("strategy", strategy.Name()).
				Str("doi", m.DOI).
				Str("arxiv_id", m.ArXivID).
				Msg("mapping accepted")
			return m, nil
		}

		if best == nil || m.Confidence > best.Confidence {
			m.merge(best)
			best = m
		} else {
			best.merge(m)
		}
	}

	if best == nil {
		return nil, domain.ErrUnsupportedSource
	}
	return best, nil
}

// adapterFor returns the first adapter that recognizes the URL.
func (s *Service) adapterFor(url string) *Adapter {
	for _, a := range s.adapters {
		if a.CanHandle(url) {
			return a
		}
	}
	return nil
}
