// Package catalog holds the static tool catalog and subscription tiers.
// A Catalog is loaded once at process start and is read-only afterwards.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// Unlimited is the sentinel for limits and seat counts.
const Unlimited = -1

type Tool struct {
	ID       string `yaml:"id" json:"id"`
	Category string `yaml:"category" json:"category"`
	Complex  bool   `yaml:"complex" json:"complex"`
}

// Limits are per-user call caps. Unlimited (-1) disables a cap.
type Limits struct {
	Hourly       int `yaml:"hourly" json:"hourly"`
	Daily        int `yaml:"daily" json:"daily"`
	Monthly      int `yaml:"monthly" json:"monthly"`
	ComplexDaily int `yaml:"complexTools" json:"complexTools"`
}

// ToolSet is either every tool ("*") or an explicit list.
type ToolSet struct {
	All bool
	IDs []string
}

func (s *ToolSet) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Value == "*" {
			s.All = true
			return nil
		}
		return fmt.Errorf("line %d: tools must be \"*\" or a list, got %q", value.Line, value.Value)
	}
	return value.Decode(&s.IDs)
}

func (s ToolSet) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("*")
	}
	return json.Marshal(s.IDs)
}

func (s ToolSet) Contains(toolID string) bool {
	if s.All {
		return true
	}
	for _, id := range s.IDs {
		if id == toolID {
			return true
		}
	}
	return false
}

type Tier struct {
	Name        string   `yaml:"name" json:"name"`
	DisplayName string   `yaml:"displayName" json:"displayName"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Tools       ToolSet  `yaml:"tools" json:"tools"`
	Limits      Limits   `yaml:"limits" json:"limits"`
	Price       int      `yaml:"price" json:"price"`
	AnnualPrice int      `yaml:"annualPrice" json:"annualPrice,omitempty"`
	Seats       int      `yaml:"seats" json:"seats,omitempty"`
	TrialDays   int      `yaml:"trialDays" json:"trialDays,omitempty"`
	Features    []string `yaml:"features" json:"features,omitempty"`
	Popular     bool     `yaml:"popular" json:"popular,omitempty"`
	Legacy      bool     `yaml:"legacy" json:"legacy,omitempty"`
}

// Allows reports whether the tier's tool set grants toolID.
func (t *Tier) Allows(toolID string) bool {
	return t.Tools.Contains(toolID)
}

func (t *Tier) HasFeature(feature string) bool {
	for _, f := range t.Features {
		if f == feature {
			return true
		}
	}
	return false
}

type Catalog struct {
	DefaultTierName string `yaml:"defaultTier"`
	Tools           []Tool `yaml:"tools"`
	Tiers           []Tier `yaml:"tiers"`

	tools   map[string]int
	tiers   map[string]int
	byPrice []int
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Load reads a catalog file, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	var errs []error
	c.tools = make(map[string]int, len(c.Tools))
	for i, t := range c.Tools {
		if _, dup := c.tools[t.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate tool %q", t.ID))
			continue
		}
		c.tools[t.ID] = i
	}
	c.tiers = make(map[string]int, len(c.Tiers))
	for i, t := range c.Tiers {
		if _, dup := c.tiers[t.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate tier %q", t.Name))
			continue
		}
		c.tiers[t.Name] = i
	}

	// Stable sort keeps declaration order between equally priced tiers.
	c.byPrice = make([]int, len(c.Tiers))
	for i := range c.byPrice {
		c.byPrice[i] = i
	}
	sort.SliceStable(c.byPrice, func(a, b int) bool {
		return c.Tiers[c.byPrice[a]].Price < c.Tiers[c.byPrice[b]].Price
	})
	return errors.Join(errs...)
}

// Validate checks referential integrity between tiers and tools.
func (c *Catalog) Validate() error {
	var errs []error
	if _, ok := c.tiers[c.DefaultTierName]; !ok {
		errs = append(errs, fmt.Errorf("default tier %q is not declared", c.DefaultTierName))
	}
	reachable := make(map[string]bool, len(c.Tools))
	for _, tier := range c.Tiers {
		if tier.Tools.All {
			for _, t := range c.Tools {
				reachable[t.ID] = true
			}
			continue
		}
		for _, id := range tier.Tools.IDs {
			if _, ok := c.tools[id]; !ok {
				errs = append(errs, fmt.Errorf("tier %q references unknown tool %q", tier.Name, id))
				continue
			}
			reachable[id] = true
		}
	}
	for _, t := range c.Tools {
		if !reachable[t.ID] {
			errs = append(errs, fmt.Errorf("tool %q is not reachable by any tier", t.ID))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) Tier(name string) (*Tier, bool) {
	i, ok := c.tiers[name]
	if !ok {
		return nil, false
	}
	return &c.Tiers[i], true
}

// DefaultTier is the tier for anonymous callers and unknown or lapsed subscriptions.
func (c *Catalog) DefaultTier() *Tier {
	return &c.Tiers[c.tiers[c.DefaultTierName]]
}

// TierOrDefault never fails: unknown names resolve to the default tier.
func (c *Catalog) TierOrDefault(name string) *Tier {
	if t, ok := c.Tier(name); ok {
		return t
	}
	return c.DefaultTier()
}

func (c *Catalog) Tool(id string) (Tool, bool) {
	i, ok := c.tools[id]
	if !ok {
		return Tool{}, false
	}
	return c.Tools[i], true
}

func (c *Catalog) IsComplex(id string) bool {
	t, ok := c.Tool(id)
	return ok && t.Complex
}

// AllTools lists tool ids in declaration order.
func (c *Catalog) AllTools() []string {
	ids := make([]string, len(c.Tools))
	for i, t := range c.Tools {
		ids[i] = t.ID
	}
	return ids
}

func (c *Catalog) ToolsForTier(name string) []string {
	tier, ok := c.Tier(name)
	if !ok {
		return nil
	}
	if tier.Tools.All {
		return c.AllTools()
	}
	return append([]string(nil), tier.Tools.IDs...)
}

// TiersByPrice returns tiers cheapest first, ties in declaration order.
func (c *Catalog) TiersByPrice() []*Tier {
	out := make([]*Tier, len(c.byPrice))
	for i, idx := range c.byPrice {
		out[i] = &c.Tiers[idx]
	}
	return out
}

// MinimumTier returns the cheapest non-legacy tier granting toolID.
func (c *Catalog) MinimumTier(toolID string) (*Tier, bool) {
	for _, idx := range c.byPrice {
		tier := &c.Tiers[idx]
		if tier.Legacy {
			continue
		}
		if tier.Allows(toolID) {
			return tier, true
		}
	}
	return nil, false
}

var featureNames = map[string]string{
	"earlyAccess":       "Early access to new tools",
	"advancedAnalytics": "Advanced analytics dashboard",
	"prioritySupport":   "Priority support",
	"teamAnalytics":     "Team usage analytics",
	"basicReporting":    "Basic reporting",
	"advancedReporting": "Advanced reporting",
	"populationHealth":  "Population health insights",
	"careGapAnalysis":   "Care gap analysis",
	"hipaaTools":        "HIPAA compliance tools",
	"api":               "API access",
	"whiteLabel":        "White-label options",
	"customIntegration": "Custom integrations",
	"sso":               "Single sign-on (SSO)",
	"auditLogs":         "Audit logs",
	"sla":               "Service level agreement",
}

// Benefits returns display lines for a tier, or nil for an unknown tier.
// Features without a display name are skipped.
func (c *Catalog) Benefits(name string) []string {
	tier, ok := c.Tier(name)
	if !ok {
		return nil
	}

	var out []string
	if tier.Tools.All {
		out = append(out, "Access to ALL tools")
	} else {
		out = append(out, fmt.Sprintf("%d professional tools", len(tier.Tools.IDs)))
	}

	if tier.Limits.Daily == Unlimited {
		out = append(out, "Unlimited daily analyses")
	} else {
		out = append(out, fmt.Sprintf("%d analyses per day", tier.Limits.Daily))
	}

	switch {
	case tier.Seats == Unlimited:
		out = append(out, "Unlimited team seats")
	case tier.Seats > 0:
		out = append(out, fmt.Sprintf("%d team seats included", tier.Seats))
	}

	for _, f := range tier.Features {
		if label, ok := featureNames[f]; ok {
			out = append(out, label)
		}
	}
	return out
}

// TierSummary is one side of an upgrade comparison. Tools is -1 for "*".
type TierSummary struct {
	Name       string   `json:"name"`
	Display    string   `json:"displayName"`
	Tools      int      `json:"tools"`
	DailyLimit int      `json:"dailyLimit"`
	Price      int      `json:"price"`
	Features   []string `json:"features,omitempty"`
}

type Upgrade struct {
	AdditionalTools         []string `json:"additionalTools"`
	AdditionalDailyAnalyses int      `json:"additionalDailyAnalyses"`
	PriceDifference         int      `json:"priceDifference"`
}

type Comparison struct {
	Current  TierSummary `json:"current"`
	Required TierSummary `json:"required"`
	Upgrade  Upgrade     `json:"upgrade"`
}

// Compare describes what moving from current to the cheapest tier granting
// toolID adds. Unknown current tiers compare as the default tier.
func (c *Catalog) Compare(current, toolID string) (Comparison, error) {
	required, ok := c.MinimumTier(toolID)
	if !ok {
		return Comparison{}, fmt.Errorf("unknown tool %q", toolID)
	}
	cur := c.TierOrDefault(current)

	add := []string{}
	if !required.Tools.All {
		for _, id := range required.Tools.IDs {
			if !cur.Allows(id) {
				add = append(add, id)
			}
		}
	} else if !cur.Tools.All {
		for _, id := range c.AllTools() {
			if !cur.Allows(id) {
				add = append(add, id)
			}
		}
	}

	return Comparison{
		Current:  summarize(cur, false),
		Required: summarize(required, true),
		Upgrade: Upgrade{
			AdditionalTools:         add,
			AdditionalDailyAnalyses: dailyDelta(cur.Limits.Daily, required.Limits.Daily),
			PriceDifference:         required.Price - cur.Price,
		},
	}, nil
}

// TierSummaryOf describes t with its feature list.
func TierSummaryOf(t *Tier) TierSummary {
	return summarize(t, true)
}

func summarize(t *Tier, withFeatures bool) TierSummary {
	s := TierSummary{
		Name:       t.Name,
		Display:    t.DisplayName,
		Tools:      Unlimited,
		DailyLimit: t.Limits.Daily,
		Price:      t.Price,
	}
	if !t.Tools.All {
		s.Tools = len(t.Tools.IDs)
	}
	if withFeatures {
		s.Features = append([]string{}, t.Features...)
	}
	return s
}

// dailyDelta is -1 when the target tier is unlimited.
func dailyDelta(from, to int) int {
	switch {
	case to == Unlimited:
		return Unlimited
	case from == Unlimited:
		return 0
	default:
		return to - from
	}
}
