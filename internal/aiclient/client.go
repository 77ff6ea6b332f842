package aiclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"reva/internal/aicache"
	"reva/internal/analysis"
	reverrors "reva/internal/errors"
	"reva/internal/logging"
	"reva/internal/ratelimit"
)

// StageFindings is the typed result of analyzing one file under one stage.
type StageFindings struct {
	Category  analysis.StageCategory
	Findings  []analysis.Finding
	FromCache bool
}

// FixResult is the typed result of the fix-generation stage for one file.
// A failed or empty fix call leaves FixedContent empty and the original
// content untouched.
type FixResult struct {
	Fixes        []analysis.Fix
	FixedContent string
	ChangeCount  int
	FromCache    bool
}

// Config tunes client retry and timeout behavior.
type Config struct {
	MaxRetries  int           // bounded retries when the limiter rejects
	CallTimeout time.Duration // per backend invocation
	MaxTokens   int
}

// Client builds stage-specific requests, applies the fingerprint cache and
// rate limiter, calls the backend, and normalizes its output.
type Client struct {
	backend Backend
	cache   *aicache.Cache
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	cfg     Config
}

// New creates a client. Cache and limiter are shared, injected singletons;
// the rate limit is a property of the upstream quota, not of one run.
func New(backend Backend, cache *aicache.Cache, limiter *ratelimit.Limiter, logger *logging.Logger, cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	return &Client{
		backend: backend,
		cache:   cache,
		limiter: limiter,
		logger:  logger.WithComponent("aiclient"),
		cfg:     cfg,
	}
}

// Fingerprint derives the deterministic cache key for one file under one
// stage category: hash of (path, content hash, category).
func Fingerprint(path, content string, category analysis.StageCategory) string {
	contentSum := blake2b.Sum256([]byte(content))
	keySum := blake2b.Sum256([]byte(fmt.Sprintf("%s:%x:%s", path, contentSum, category)))
	return hex.EncodeToString(keySum[:])
}

// Analyze runs one analysis stage over one file. Malformed backend output
// yields an empty findings list, never an error; transport failures that
// survive the retry budget surface as stage-local errors for the caller to
// isolate.
func (c *Client) Analyze(ctx context.Context, file analysis.SourceFile, category analysis.StageCategory) (StageFindings, error) {
	fingerprint := Fingerprint(file.Path, file.Content, category)

	if raw, ok := c.cache.Get(fingerprint); ok {
		findings, err := parseFindings(file.Path, category, raw)
		if err == nil {
			return StageFindings{Category: category, Findings: findings, FromCache: true}, nil
		}
		// Cached garbage; fall through to a fresh call.
	}

	system, user, err := buildAnalysisPrompt(file, category)
	if err != nil {
		return StageFindings{Category: category}, err
	}

	raw, err := c.invoke(ctx, Request{
		Category:     category,
		FilePath:     file.Path,
		Language:     file.Language,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    c.cfg.MaxTokens,
	})
	if err != nil {
		return StageFindings{Category: category}, err
	}

	findings, err := parseFindings(file.Path, category, raw)
	if err != nil {
		// Malformed upstream output must never crash a stage: default to an
		// empty findings list.
		c.logger.Warn("Malformed backend response, defaulting to no findings", map[string]interface{}{
			"file":     file.Path,
			"category": category,
			"error":    err.Error(),
		})
		return StageFindings{Category: category, Findings: []analysis.Finding{}}, nil
	}

	c.cache.Put(fingerprint, raw)
	return StageFindings{Category: category, Findings: findings}, nil
}

// GenerateFixes runs the fix-generation stage for one file with its recorded
// errors. Any malformed output defaults to "no fix, original content
// unchanged" so a failed AI call can never corrupt source content.
func (c *Client) GenerateFixes(ctx context.Context, file analysis.SourceFile, findings []analysis.Finding) (FixResult, error) {
	fingerprint := Fingerprint(file.Path, file.Content, analysis.CategoryFix)

	if raw, ok := c.cache.Get(fingerprint); ok {
		if result, err := c.fixResultFrom(file, raw); err == nil {
			result.FromCache = true
			return result, nil
		}
	}

	system, user, err := buildFixPrompt(file, findings)
	if err != nil {
		return FixResult{}, err
	}

	raw, err := c.invoke(ctx, Request{
		Category:     analysis.CategoryFix,
		FilePath:     file.Path,
		Language:     file.Language,
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    c.cfg.MaxTokens,
	})
	if err != nil {
		return FixResult{}, err
	}

	result, err := c.fixResultFrom(file, raw)
	if err != nil {
		c.logger.Warn("Malformed fix bundle, keeping original content", map[string]interface{}{
			"file":  file.Path,
			"error": err.Error(),
		})
		return FixResult{}, nil
	}

	c.cache.Put(fingerprint, raw)
	return result, nil
}

// Summarize asks the backend for a short run summary. Failures are reported
// to the caller, which treats the summary as optional.
func (c *Client) Summarize(ctx context.Context, metrics analysis.Metrics, top []analysis.Finding) (string, error) {
	system, user, err := buildSummaryPrompt(metrics, top)
	if err != nil {
		return "", err
	}

	raw, err := c.invoke(ctx, Request{
		Category:     "summary",
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    1024,
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (c *Client) fixResultFrom(file analysis.SourceFile, raw string) (FixResult, error) {
	bundle, err := parseFixBundle(raw)
	if err != nil {
		return FixResult{}, err
	}

	result := FixResult{FixedContent: bundle.FixedContent}
	for _, f := range bundle.Fixes {
		result.Fixes = append(result.Fixes, analysis.NewFix(
			f.ErrorID, file.Path, f.Description, f.Complexity, f.Risk, bundle.FixedContent != ""))
	}
	if bundle.FixedContent != "" {
		result.ChangeCount = bundle.ChangeCount
		if result.ChangeCount == 0 {
			result.ChangeCount = countChangedLines(file.Content, bundle.FixedContent)
		}
	}
	return result, nil
}

// invoke applies rate-limit admission with bounded retry, then calls the
// backend under the per-call timeout. Backend-side 429s share the same
// retry budget as local limiter rejections.
func (c *Client) invoke(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Admit(); err != nil {
			rlErr, ok := err.(*ratelimit.Error)
			if !ok {
				return "", err
			}
			lastErr = reverrors.New(reverrors.RateLimited, "request budget exhausted", err)
			if waitErr := sleepCtx(ctx, rlErr.RetryAfter); waitErr != nil {
				return "", waitErr
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		raw, err := c.backend.Invoke(callCtx, req)
		cancel()

		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			// Run-level cancellation wins over retry.
			return "", ctx.Err()
		}
		if reverrors.HasCode(err, reverrors.RateLimited) {
			lastErr = err
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			if waitErr := sleepCtx(ctx, backoff); waitErr != nil {
				return "", waitErr
			}
			continue
		}
		return "", err
	}

	if lastErr == nil {
		lastErr = reverrors.New(reverrors.RateLimited, "request budget exhausted", nil)
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
