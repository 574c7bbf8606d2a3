package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/ratelimit"
	"github.com/Carrie-PLH/plus/internal/repository"
	"go.uber.org/zap"
)

// ErrAnalyticsUnavailable is returned when no usage event store is
// configured.
var ErrAnalyticsUnavailable = errors.New("usage analytics unavailable")

const (
	defaultHistory = 10
	maxHistory     = 100
	dateLayout     = "2006-01-02"
)

// UsageEventReader is the read side of the usage event store.
type UsageEventReader interface {
	FindRecent(ctx context.Context, uid string, limit int) ([]models.UsageEvent, error)
	CountSince(ctx context.Context, uid string, since time.Time) (int64, error)
	CountByTool(ctx context.Context, uid string, since time.Time) (map[string]int64, error)
	DailyCounts(ctx context.Context, uid string, from, to time.Time) ([]repository.DailyCount, error)
}

type AnalyticsService struct {
	catalog  *catalog.Catalog
	resolver *access.Resolver
	limiter  *ratelimit.Limiter
	events   UsageEventReader
	logger   *zap.Logger
	now      func() time.Time
}

// NewAnalyticsService builds per-user usage views. events may be nil, in
// which case only live counters are reported.
func NewAnalyticsService(c *catalog.Catalog, resolver *access.Resolver, limiter *ratelimit.Limiter, events UsageEventReader, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		catalog:  c,
		resolver: resolver,
		limiter:  limiter,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Holds a user's current counters and totals
type UsageReport struct {
	Tier             string                              `json:"tier"`
	Limits           catalog.Limits                      `json:"limits"`
	Today            int64                               `json:"today"`
	Month            int64                               `json:"month"`
	MonthlyRemaining int                                 `json:"monthlyRemaining"`
	ByTool           map[string]int64                    `json:"byTool"`
	Windows          map[string][]ratelimit.WindowStatus `json:"windows"`
	HistoryAvailable bool                                `json:"historyAvailable"`
}

// Usage reports live window counters for every tool the caller's tier
// grants, plus daily and monthly totals when history is stored.
func (s *AnalyticsService) Usage(ctx context.Context, uid string) (*UsageReport, error) {
	standing := s.resolver.Standing(ctx, uid)
	tier := standing.Tier
	now := s.now()

	report := &UsageReport{
		Tier:             tier.Name,
		Limits:           tier.Limits,
		MonthlyRemaining: tier.Limits.Monthly,
		ByTool:           map[string]int64{},
		Windows:          map[string][]ratelimit.WindowStatus{},
		HistoryAvailable: s.events != nil,
	}

	for _, id := range s.catalog.ToolsForTier(tier.Name) {
		tool, _ := s.catalog.Tool(id)
		windows, err := s.limiter.Status(ctx, uid, tool, tier.Limits, now)
		if err != nil {
			s.logger.Warn("usage counters unavailable", zap.String("user_id", uid), zap.Error(err))
			break
		}
		report.Windows[id] = windows
	}

	if s.events == nil {
		return report, nil
	}

	dayStart := startOfDay(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var err error
	if report.Today, err = s.events.CountSince(ctx, uid, dayStart); err != nil {
		return nil, fmt.Errorf("counting today's usage: %w", err)
	}
	if report.ByTool, err = s.events.CountByTool(ctx, uid, monthStart); err != nil {
		return nil, fmt.Errorf("counting usage by tool: %w", err)
	}
	for _, n := range report.ByTool {
		report.Month += n
	}
	if tier.Limits.Monthly >= 0 {
		report.MonthlyRemaining = max(tier.Limits.Monthly-int(report.Month), 0)
	}

	return report, nil
}

// History returns the caller's most recent tool calls, newest first.
func (s *AnalyticsService) History(ctx context.Context, uid string, limit int) ([]models.UsageEvent, error) {
	if s.events == nil {
		return nil, ErrAnalyticsUnavailable
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	return s.events.FindRecent(ctx, uid, min(limit, maxHistory))
}

// Holds one chart series
type Chart struct {
	Period    string   `json:"period"`
	Labels    []string `json:"labels"`
	Counts    []int64  `json:"counts"`
	Failures  []int64  `json:"failures"`
	Fallbacks []int64  `json:"fallbacks"`
}

// Chart buckets usage by day for "week" and "month" and by calendar month
// for "year". Days without calls are zero.
func (s *AnalyticsService) Chart(ctx context.Context, uid, period string) (*Chart, error) {
	if s.events == nil {
		return nil, ErrAnalyticsUnavailable
	}

	today := startOfDay(s.now())
	var from time.Time
	switch period {
	case "", "week":
		period, from = "week", today.AddDate(0, 0, -6)
	case "month":
		from = today.AddDate(0, 0, -29)
	case "year":
		from = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()).AddDate(0, -11, 0)
	default:
		return nil, fmt.Errorf("unknown period %q", period)
	}

	rows, err := s.events.DailyCounts(ctx, uid, from, today.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("loading daily usage: %w", err)
	}

	layout, step := dateLayout, func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	if period == "year" {
		layout, step = "2006-01", func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	}

	chart := &Chart{Period: period}
	index := map[string]int{}
	for t := from; !t.After(today); t = step(t) {
		label := t.Format(layout)
		index[label] = len(chart.Labels)
		chart.Labels = append(chart.Labels, label)
	}
	chart.Counts = make([]int64, len(chart.Labels))
	chart.Failures = make([]int64, len(chart.Labels))
	chart.Fallbacks = make([]int64, len(chart.Labels))

	for _, row := range rows {
		label := row.Date
		if period == "year" && len(label) >= 7 {
			label = label[:7]
		}
		i, ok := index[label]
		if !ok {
			continue
		}
		chart.Counts[i] += row.Count
		chart.Failures[i] += row.Failures
		chart.Fallbacks[i] += row.Fallbacks
	}
	return chart, nil
}

// Holds the account overview
type Dashboard struct {
	Tier              catalog.TierSummary `json:"tier"`
	Status            string              `json:"status"`
	Limits            catalog.Limits      `json:"limits"`
	Benefits          []string            `json:"benefits"`
	Tools             []string            `json:"tools"`
	CurrentPeriodEnd  *time.Time          `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool                `json:"cancelAtPeriodEnd"`
	TrialEnd          *time.Time          `json:"trialEnd,omitempty"`
	TrialDaysLeft     int                 `json:"trialDaysLeft"`
	Usage             *UsageReport        `json:"usage"`
}

func (s *AnalyticsService) Dashboard(ctx context.Context, uid string) (*Dashboard, error) {
	standing := s.resolver.Standing(ctx, uid)
	tier := standing.Tier

	d := &Dashboard{
		Tier:     catalog.TierSummaryOf(tier),
		Status:   standing.Status,
		Limits:   tier.Limits,
		Benefits: s.catalog.Benefits(tier.Name),
		Tools:    s.catalog.ToolsForTier(tier.Name),
	}
	if sub := standing.Subscription; sub != nil {
		d.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		d.CurrentPeriodEnd = timePtr(sub.CurrentPeriodEnd)
		d.TrialEnd = timePtr(sub.TrialEnd)
		if sub.Status == access.StatusTrialing && !sub.TrialEnd.IsZero() {
			left := sub.TrialEnd.Sub(s.now())
			d.TrialDaysLeft = max(int((left+24*time.Hour-1)/(24*time.Hour)), 0)
		}
	}

	usage, err := s.Usage(ctx, uid)
	if err != nil {
		return nil, err
	}
	d.Usage = usage
	return d, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
