// Package linker resolves a literature's normalized references against the
// graph and creates CITES edges. Exact identifier matches come first, then a
// gatekept fuzzy title+author+year match; everything else becomes an
// Unresolved placeholder. Newly created literature reclaims matching
// placeholders bi-directionally.
package linker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/graph"
)

// GraphStore is the graph surface the linker consults and mutates.
type GraphStore interface {
	ResolveAlias(ctx context.Context, aliasType domain.AliasType, value string) (string, error)
	FindCandidatesByTitle(ctx context.Context, normTitle string, year, tolerance, limit int) ([]graph.Candidate, error)
	LinkCitation(ctx context.Context, srcLID, dst string, confidence float64, source domain.CitationSource) error
	CreateUnresolved(ctx context.Context, u *domain.Unresolved) (string, error)
	PromoteUnresolved(ctx context.Context, uid, lid string) error
	FindUnresolvedByFingerprint(ctx context.Context, fingerprint, doi string) ([]string, error)
}

// Config holds the linker thresholds, exposed as configuration with the
// documented defaults.
type Config struct {
	// GateThreshold is the cheap title-similarity lower bound before the
	// full composite score is computed.
	GateThreshold float64

	// AcceptThreshold is the composite-score acceptance threshold.
	AcceptThreshold float64

	// YearTolerance is the allowed publication year delta.
	YearTolerance int

	// CandidateLimit caps the candidates scored per reference.
	CandidateLimit int
}

func (c *Config) applyDefaults() {
	if c.GateThreshold <= 0 {
		c.GateThreshold = 0.4
	}
	if c.AcceptThreshold <= 0 {
		c.AcceptThreshold = 0.6
	}
	if c.YearTolerance <= 0 {
		c.YearTolerance = 1
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 10
	}
}

// Linker links references into the citation graph.
type Linker struct {
	store  GraphStore
	cfg    Config
	logger zerolog.Logger
}

// New creates a citation linker.
func New(cfg Config, store GraphStore, logger zerolog.Logger) *Linker {
	cfg.applyDefaults()
	return &Linker{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "linker").Logger(),
	}
}

// Stats summarizes one linking run.
type Stats struct {
	// Linked counts edges created to resolved literature.
	Linked int

	// Unresolved counts placeholder nodes created.
	Unresolved int

	// Skipped counts references dropped (self-citations, empty).
	Skipped int
}

// LinkReferences resolves each reference of srcLID and creates a CITES edge
// to either an existing literature or a new Unresolved placeholder.
func (l *Linker) LinkReferences(ctx context.Context, srcLID string, refs []domain.Reference) (*Stats, error) {
	stats := &Stats{}
	for i := range refs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ref := &refs[i]

		dst, confidence, err := l.resolveTarget(ctx, ref)
		if err != nil {
			return stats, err
		}
		if dst == "" {
			uid, err := l.createPlaceholder(ctx, ref)
			if err != nil {
				return stats, err
			}
			dst = uid
			confidence = 1.0
			stats.Unresolved++
		} else {
			stats.Linked++
		}

		if dst == srcLID {
			// Self-loops are rejected.
			stats.Skipped++
			stats.Linked--
			continue
		}

		if err := l.store.LinkCitation(ctx, srcLID, dst, confidence, citationSource(ref.Source)); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				stats.Skipped++
				continue
			}
			return stats, err
		}
	}

	l.logger.Info().
		Str("lid", srcLID).
		Int("linked", stats.Linked).
		Int("unresolved", stats.Unresolved).
		Int("skipped", stats.Skipped).
		Msg("references linked")
	return stats, nil
}

// SweepUnresolved promotes placeholders matching a newly created literature
// by title fingerprint or DOI. Incident CITES edges are preserved.
func (l *Linker) SweepUnresolved(ctx context.Context, lit *domain.Literature) (int, error) {
	fingerprint := domain.TitleFingerprint(lit.Metadata.Title, lit.Metadata.Authors, lit.Metadata.Year)
	uids, err := l.store.FindUnresolvedByFingerprint(ctx, fingerprint, lit.Identifiers.DOI)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, uid := range uids {
		if err := l.store.PromoteUnresolved(ctx, uid, lit.LID); err != nil {
			l.logger.Warn().Err(err).Str("uid", uid).Str("lid", lit.LID).Msg("promotion failed")
			continue
		}
		promoted++
	}
	return promoted, nil
}

// resolveTarget finds an existing literature for a reference: exact DOI or
// arXiv alias first, then the gatekept fuzzy probe. Returns empty when no
// match is acceptable.
func (l *Linker) resolveTarget(ctx context.Context, ref *domain.Reference) (string, float64, error) {
	if ref.Parsed != nil {
		if ref.Parsed.DOI != "" {
			lid, err := l.resolve(ctx, domain.AliasDOI, ref.Parsed.DOI)
			if err != nil {
				return "", 0, err
			}
			if lid != "" {
				return lid, 1.0, nil
			}
		}
		if ref.Parsed.ArXivID != "" {
			lid, err := l.resolve(ctx, domain.AliasArXiv, ref.Parsed.ArXivID)
			if err != nil {
				return "", 0, err
			}
			if lid != "" {
				return lid, 1.0, nil
			}
		}
		if ref.Parsed.Title != "" {
			return l.fuzzyMatch(ctx, ref.Parsed)
		}
	}
	return "", 0, nil
}

// fuzzyMatch probes by normalized title and year, gates on cheap token
// overlap, and accepts the best candidate whose composite score clears the
// acceptance threshold together with the author and year rules.
func (l *Linker) fuzzyMatch(ctx context.Context, parsed *domain.ParsedReference) (string, float64, error) {
	normTitle := domain.NormalizeTitle(parsed.Title)
	candidates, err := l.store.FindCandidatesByTitle(ctx, normTitle, parsed.Year, l.cfg.YearTolerance, l.cfg.CandidateLimit)
	if err != nil {
		return "", 0, err
	}

	bestLID := ""
	bestScore := 0.0
	for _, cand := range candidates {
		if !YearWithin(parsed.Year, cand.Year, l.cfg.YearTolerance) {
			continue
		}

		// Gatekeeper: cheap token overlap before the full composite.
		candNorm := domain.NormalizeTitle(cand.Title)
		if TokenOverlap(normTitle, candNorm) < l.cfg.GateThreshold {
			continue
		}

		score := tokenOverlapWeight*TokenOverlap(normTitle, candNorm) + lcsRatioWeight*LCSRatio(normTitle, candNorm)
		if score < l.cfg.AcceptThreshold {
			continue
		}

		if len(parsed.Authors) > 0 && len(cand.Authors) > 0 {
			if AuthorMatchRate(parsed.Authors, cand.Authors) < authorMatchFloor {
				continue
			}
		}

		if score > bestScore {
			bestScore = score
			bestLID = cand.LID
		}
	}

	if bestLID == "" {
		return "", 0, nil
	}
	l.logger.Debug().
		Str("title", parsed.Title).
		Str("lid", bestLID).
		Float64("score", bestScore).
		Msg("fuzzy citation match")
	return bestLID, bestScore, nil
}

// createPlaceholder records an Unresolved node for a reference.
func (l *Linker) createPlaceholder(ctx context.Context, ref *domain.Reference) (string, error) {
	return l.store.CreateUnresolved(ctx, &domain.Unresolved{
		RawText: ref.RawText,
		Parsed:  ref.Parsed,
	})
}

func (l *Linker) resolve(ctx context.Context, aliasType domain.AliasType, value string) (string, error) {
	lid, err := l.store.ResolveAlias(ctx, aliasType, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return lid, nil
}

// citationSource maps a reference provenance label to the edge source tag.
func citationSource(refSource string) domain.CitationSource {
	switch refSource {
	case "grobid":
		return domain.CitationSourceParser
	case "site_extract":
		return domain.CitationSourceScrape
	default:
		return domain.CitationSourceAPI
	}
}
