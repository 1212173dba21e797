package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tyqqj0/paper-parser/internal/domain"
	"github.com/tyqqj0/paper-parser/internal/urlmapping"
)

// OutcomeKind is the atomic result of a dedup check.
type OutcomeKind string

// Dedup outcomes.
const (
	OutcomeExisting   OutcomeKind = "existing"
	OutcomeNew        OutcomeKind = "new"
	OutcomeInProgress OutcomeKind = "in_progress"
)

// Outcome describes a dedup decision and which phase produced it.
type Outcome struct {
	// Kind is the decision.
	Kind OutcomeKind

	// LID is the existing (or winning) literature when Kind is existing.
	LID string

	// OtherTaskID is the in-flight task when Kind is in_progress.
	OtherTaskID string

	// Phase names the phase that decided (identifier, source_url,
	// in_flight, fingerprint, none).
	Phase string
}

// Store is the graph surface the engine consults and mutates.
type Store interface {
	// ResolveAlias looks up a literature by alias.
	ResolveAlias(ctx context.Context, aliasType domain.AliasType, value string) (string, error)

	// ClaimFingerprint atomically binds a title fingerprint to a LID,
	// returning the owning LID and whether this call claimed it.
	ClaimFingerprint(ctx context.Context, fingerprint, lid string) (string, bool, error)

	// GetLiterature loads a literature for the failed-document rule.
	GetLiterature(ctx context.Context, lid string) (*domain.Literature, error)

	// IncomingResolvedCitations counts CITES edges from resolved literature.
	IncomingResolvedCitations(ctx context.Context, lid string) (int, error)

	// DeleteLiterature removes a terminally failed literature so the user
	// can retry.
	DeleteLiterature(ctx context.Context, lid string) error
}

// TaskIndex finds in-flight tasks by their canonical submitted source.
type TaskIndex interface {
	// FindActiveBySource returns a pending or processing task whose
	// submitted source normalizes equal, or nil.
	FindActiveBySource(ctx context.Context, source string, window time.Duration) (*domain.Task, error)
}

// Locker serializes create paths per candidate LID to damp write
// amplification. Correctness does not depend on it.
type Locker interface {
	// Acquire takes the lock and returns a release function.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Config holds engine settings.
type Config struct {
	// InFlightWindow is the staleness window for phase 3.
	InFlightWindow time.Duration
}

// Engine runs the dedup waterfall.
type Engine struct {
	store  Store
	tasks  TaskIndex
	locker Locker
	window time.Duration
	logger zerolog.Logger
}

// NewEngine creates a dedup engine. locker may be nil.
func NewEngine(cfg Config, store Store, tasks TaskIndex, locker Locker, logger zerolog.Logger) *Engine {
	window := cfg.InFlightWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Engine{
		store:  store,
		tasks:  tasks,
		locker: locker,
		window: window,
		logger: logger.With().Str("component", "dedup").Logger(),
	}
}

// PreCheck runs phases 1-3 before any metadata has been fetched.
// taskID identifies the current task so phase 3 does not match itself.
func (e *Engine) PreCheck(ctx context.Context, taskID string, sub domain.Submission, mapping *urlmapping.Mapping) (*Outcome, error) {
	// Phase 1: explicit identifiers.
	if out, err := e.byIdentifiers(ctx, sub, mapping); err != nil || out != nil {
		return out, err
	}

	// Phase 2: normalized source URLs.
	if out, err := e.bySourceURLs(ctx, sub, mapping); err != nil || out != nil {
		return out, err
	}

	// Phase 3: in-flight tasks for the same source.
	if e.tasks != nil {
		task, err := e.tasks.FindActiveBySource(ctx, sub.CanonicalSource(), e.window)
		if err != nil {
			return nil, err
		}
		if task != nil && task.TaskID != taskID {
			e.logger.Info().Str("other_task", task.TaskID).Msg("duplicate in-flight submission")
			return &Outcome{
				Kind:        OutcomeInProgress,
				LID:         task.LiteratureID,
				OtherTaskID: task.TaskID,
				Phase:       "in_flight",
			}, nil
		}
	}

	return &Outcome{Kind: OutcomeNew, Phase: "none"}, nil
}

// PostCheck runs phase 4 after metadata (and optionally content) is known.
// candidateLID is the LID this task would create; when the fingerprint claim
// loses, the winner's LID comes back as a duplicate outcome.
func (e *Engine) PostCheck(ctx context.Context, candidateLID string, meta domain.Metadata, pdfMD5 string) (*Outcome, error) {
	// Content fingerprint probe.
	if pdfMD5 != "" {
		if lid, err := e.resolve(ctx, domain.AliasFingerprint, pdfMD5); err != nil {
			return nil, err
		} else if lid != "" && lid != candidateLID {
			return &Outcome{Kind: OutcomeExisting, LID: lid, Phase: "fingerprint"}, nil
		}
	}

	fingerprint := domain.TitleFingerprint(meta.Title, meta.Authors, meta.Year)

	if e.locker != nil {
		release, err := e.locker.Acquire(ctx, "dedup:"+candidateLID, 30*time.Second)
		if err == nil {
			defer release()
		}
	}

	owner, claimed, err := e.store.ClaimFingerprint(ctx, fingerprint, candidateLID)
	if err != nil {
		return nil, err
	}
	if !claimed && owner != candidateLID {
		e.logger.Info().
			Str("winner", owner).
			Str("candidate", candidateLID).
			Msg("fingerprint race lost, reporting duplicate")
		return &Outcome{Kind: OutcomeExisting, LID: owner, Phase: "fingerprint"}, nil
	}

	return &Outcome{Kind: OutcomeNew, LID: candidateLID, Phase: "fingerprint"}, nil
}

// byIdentifiers is phase 1: DOI, arXiv ID, then PMID through the alias index.
func (e *Engine) byIdentifiers(ctx context.Context, sub domain.Submission, mapping *urlmapping.Mapping) (*Outcome, error) {
	type probe struct {
		aliasType domain.AliasType
		value     string
	}

	probes := []probe{
		{domain.AliasDOI, sub.DOI},
		{domain.AliasArXiv, sub.ArXivID},
		{domain.AliasPMID, sub.PMID},
	}
	if mapping != nil {
		probes = append(probes,
			probe{domain.AliasDOI, mapping.DOI},
			probe{domain.AliasArXiv, mapping.ArXivID},
			probe{domain.AliasPMID, mapping.PMID},
		)
	}

	for _, p := range probes {
		if p.value == "" {
			continue
		}
		lid, err := e.resolve(ctx, p.aliasType, p.value)
		if err != nil {
			return nil, err
		}
		if lid == "" {
			continue
		}

		removed, err := e.cleanupIfFailed(ctx, lid)
		if err != nil {
			return nil, err
		}
		if removed {
			continue
		}
		return &Outcome{Kind: OutcomeExisting, LID: lid, Phase: "identifier"}, nil
	}
	return nil, nil
}

// bySourceURLs is phase 2: normalized URL and PDF URL probes.
func (e *Engine) bySourceURLs(ctx context.Context, sub domain.Submission, mapping *urlmapping.Mapping) (*Outcome, error) {
	type probe struct {
		aliasType domain.AliasType
		value     string
	}

	var probes []probe
	if sub.URL != "" {
		probes = append(probes, probe{domain.AliasURL, NormalizeURL(sub.URL)})
	}
	if sub.PDFURL != "" {
		probes = append(probes, probe{domain.AliasPDFURL, NormalizeURL(sub.PDFURL)})
	}
	if mapping != nil {
		if mapping.SourcePageURL != "" {
			probes = append(probes, probe{domain.AliasURL, NormalizeURL(mapping.SourcePageURL)})
		}
		if mapping.PDFURL != "" {
			probes = append(probes, probe{domain.AliasPDFURL, NormalizeURL(mapping.PDFURL)})
		}
	}

	for _, p := range probes {
		if p.value == "" {
			continue
		}
		lid, err := e.resolve(ctx, p.aliasType, p.value)
		if err != nil {
			return nil, err
		}
		if lid == "" {
			continue
		}

		removed, err := e.cleanupIfFailed(ctx, lid)
		if err != nil {
			return nil, err
		}
		if removed {
			continue
		}
		return &Outcome{Kind: OutcomeExisting, LID: lid, Phase: "source_url"}, nil
	}
	return nil, nil
}

// resolve looks up an alias, mapping not-found to the empty string.
func (e *Engine) resolve(ctx context.Context, aliasType domain.AliasType, value string) (string, error) {
	lid, err := e.store.ResolveAlias(ctx, aliasType, value)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return lid, nil
}

// cleanupIfFailed applies the failed-document rule: a matched literature in
// a terminal failed state with no incoming CITES edges from resolved
// literature is removed so the user can retry. Returns true when removed.
func (e *Engine) cleanupIfFailed(ctx context.Context, lid string) (bool, error) {
	lit, err := e.store.GetLiterature(ctx, lid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if lit.TaskInfo == nil || lit.TaskInfo.Status != domain.StatusFailed {
		return false, nil
	}

	incoming, err := e.store.IncomingResolvedCitations(ctx, lid)
	if err != nil {
		return false, err
	}
	if incoming > 0 {
		// Still cited by resolved literature: keep it, treat as retry target.
		return false, nil
	}

	e.logger.Info().Str("lid", lid).Msg("removing failed literature before retry")
	if err := e.store.DeleteLiterature(ctx, lid); err != nil {
		return false, err
	}
	return true, nil
}
