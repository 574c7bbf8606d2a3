// Package pipeline runs one tool call end to end: entitlement, usage
// limits, generation, normalization and fallback.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/llm"
	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/normalize"
	"github.com/Carrie-PLH/plus/internal/ratelimit"
	"github.com/Carrie-PLH/plus/internal/tools"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Recorder receives one event per admitted call. Record must not block.
type Recorder interface {
	Record(event models.UsageEvent)
}

type Config struct {
	// CacheSize bounds the response cache. Zero disables it.
	CacheSize int
	CacheTTL  time.Duration
}

type Pipeline struct {
	catalog   *catalog.Catalog
	resolver  *access.Resolver
	limiter   *ratelimit.Limiter
	tools     *tools.Registry
	generator llm.Generator
	recorder  Recorder
	cache     *expirable.LRU[string, string]
	logger    *zap.Logger
	now       func() time.Time
}

func New(c *catalog.Catalog, resolver *access.Resolver, limiter *ratelimit.Limiter, registry *tools.Registry,
	generator llm.Generator, recorder Recorder, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		catalog:   c,
		resolver:  resolver,
		limiter:   limiter,
		tools:     registry,
		generator: generator,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
	if cfg.CacheSize > 0 {
		p.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return p
}

// Result is a successful tool response.
type Result struct {
	Data     normalize.Result
	Outcome  normalize.Outcome
	Fallback bool
	Cached   bool
	Usage    ratelimit.Decision
}

// Run executes toolID for userID. Denials and invalid input return before
// any external call. Transient generation failures and unusable output
// resolve to the tool's fallback response.
func (p *Pipeline) Run(ctx context.Context, userID, toolID string, inputs map[string]any) (*Result, error) {
	decision := p.resolver.Resolve(ctx, userID, toolID)
	if !decision.Allowed {
		return nil, p.denied(decision)
	}

	tool, ok := p.tools.Lookup(toolID)
	if !ok {
		return nil, &ToolUnavailableError{Tool: toolID}
	}

	in := fallback.Inputs(inputs)
	if in == nil {
		in = fallback.Inputs{}
	}
	if err := tool.Validate(in); err != nil {
		var inputErr *tools.InputError
		if errors.As(err, &inputErr) {
			return nil, &InputValidationError{Field: inputErr.Field, Message: inputErr.Message}
		}
		return nil, err
	}

	start := p.now()
	usage := p.limiter.CheckAndConsume(ctx, userID, decision.Tool, decision.Limits, start)
	if !usage.Allowed {
		return nil, p.limited(decision, usage)
	}

	res, tokens, retries, err := p.generate(ctx, tool, in)
	event := models.UsageEvent{
		Tool:           toolID,
		UID:            userID,
		Timestamp:      start,
		Date:           start.UTC().Format("2006-01-02"),
		Success:        err == nil,
		TokensUsed:     tokens,
		ResponseTimeMs: int(p.now().Sub(start).Milliseconds()),
		Retries:        retries,
	}
	if err != nil {
		_, event.ErrorCode, _ = MapError(err)
		p.record(event)
		return nil, err
	}
	event.Fallback = res.Fallback
	p.record(event)

	res.Usage = usage
	return res, nil
}

func (p *Pipeline) generate(ctx context.Context, tool *tools.Tool, in fallback.Inputs) (*Result, int, int, error) {
	prompt := tool.Prompt(in)
	opts := tool.Options(in)
	key := cacheKey(tool.ID, opts.System, prompt)

	if raw, ok := p.cached(key); ok {
		out, outcome := normalize.Normalize(raw, tool.Schema)
		return &Result{Data: tool.Complete(out, in, outcome), Outcome: outcome, Cached: true}, 0, 0, nil
	}

	callCtx, stats := llm.WithStats(ctx)
	raw, err := p.generator.Generate(callCtx, prompt, opts)
	retries := max(stats.Attempts()-1, 0)
	if err != nil {
		if llm.IsClientFault(err) {
			p.logger.Error("generation rejected",
				zap.String("tool", tool.ID),
				zap.Error(err),
			)
			return nil, stats.Tokens(), retries, err
		}
		p.logger.Warn("generation failed, using fallback",
			zap.String("tool", tool.ID),
			zap.Int("attempts", stats.Attempts()),
			zap.Error(err),
		)
		res, ferr := p.fallback(tool, in, normalize.Empty)
		return res, stats.Tokens(), retries, ferr
	}

	out, outcome := normalize.Normalize(raw, tool.Schema)
	if !tool.Usable(outcome) {
		p.logger.Info("model output unusable, using fallback",
			zap.String("tool", tool.ID),
			zap.Stringer("outcome", outcome),
		)
		res, ferr := p.fallback(tool, in, outcome)
		return res, stats.Tokens(), retries, ferr
	}
	if outcome == normalize.Parsed && p.cache != nil {
		p.cache.Add(key, raw)
	}
	return &Result{Data: tool.Complete(out, in, outcome), Outcome: outcome}, stats.Tokens(), retries, nil
}

func (p *Pipeline) fallback(tool *tools.Tool, in fallback.Inputs, outcome normalize.Outcome) (*Result, error) {
	out, err := fallback.Build(tool.ID, in)
	if err != nil {
		return nil, fmt.Errorf("fallback for %s: %w", tool.ID, err)
	}
	return &Result{Data: tool.Complete(out, in, outcome), Outcome: outcome, Fallback: true}, nil
}

func (p *Pipeline) cached(key string) (string, bool) {
	if p.cache == nil {
		return "", false
	}
	return p.cache.Get(key)
}

func (p *Pipeline) record(event models.UsageEvent) {
	if p.recorder != nil {
		p.recorder.Record(event)
	}
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) displayName(tier string) string {
	if t, ok := p.catalog.Tier(tier); ok && t.DisplayName != "" {
		return t.DisplayName
	}
	return tier
}

func (p *Pipeline) denied(d access.Decision) error {
	if d.ReasonCode == access.ReasonUnknownTool {
		return &InputValidationError{Field: "toolId", Message: "Unknown tool."}
	}
	msg := "Your plan does not include this tool."
	if d.RequiredTier != "" {
		msg = fmt.Sprintf("This tool requires the %s plan. Upgrade to get access.", p.displayName(d.RequiredTier))
	}
	return &AccessDeniedError{
		Reason:       d.ReasonCode,
		Message:      msg,
		Tier:         d.Tier,
		RequiredTier: d.RequiredTier,
		status:       http.StatusForbidden,
	}
}

func (p *Pipeline) limited(d access.Decision, u ratelimit.Decision) error {
	err := &AccessDeniedError{
		Reason:         u.ReasonCode,
		Tier:           d.Tier,
		ResetInSeconds: u.ResetInSeconds,
		status:         http.StatusTooManyRequests,
	}
	wait := fmt.Sprintf("Try again in %d %s.", u.ResetIn, unit(u.ResetIn, u.ResetUnit))

	switch u.ReasonCode {
	case ratelimit.ReasonHourly:
		err.Message = fmt.Sprintf("Hourly limit of %d uses for this tool reached. %s", u.Limit, wait)
	case ratelimit.ReasonDaily:
		err.Message = fmt.Sprintf("Daily limit of %d uses for this tool reached. %s", u.Limit, wait)
	case ratelimit.ReasonComplex:
		if u.Limit == 0 {
			err.Message = "Your plan does not include advanced analyses. Upgrade to run this tool."
			err.ResetInSeconds = 0
			err.status = http.StatusForbidden
			break
		}
		err.Message = fmt.Sprintf("Daily limit of %d advanced analyses reached. %s", u.Limit, wait)
	default:
		err.Message = "Usage tracking is temporarily unavailable. Please try again later."
		err.status = http.StatusServiceUnavailable
	}
	return err
}

// unit singularizes "minutes" and "hours" for a count of one.
func unit(n int, plural string) string {
	if n == 1 && len(plural) > 1 {
		return plural[:len(plural)-1]
	}
	return plural
}
