// Package policyopa is an optional rego-bundle veto layered after the
// fixed nine-step isEligible chain (spec.md §4.1b). It never replaces
// that chain — it is consulted only once a model has already passed
// it, and can only turn an eligible result ineligible, never the
// reverse. Bundles are loaded once at startup from a directory of
// .rego files; when no bundle is configured, Evaluate always allows.
package policyopa

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Input is the governance-relevant context handed to the policy
// bundle for one eligibility check.
type Input struct {
	ModelID     string  `json:"modelId"`
	Provider    string  `json:"provider"`
	TaskType    string  `json:"taskType"`
	Difficulty  string  `json:"difficulty"`
	TierProfile string  `json:"tierProfile"`
	Score       float64 `json:"score"`
}

// Decision is the additive veto outcome.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Config controls bundle location and enforcement.
type Config struct {
	Enabled    bool
	BundlePath string
	FailClosed bool // on load/eval error: true = deny, false = allow
}

// Engine evaluates the optional policy bundle with an LRU decision
// cache in front of the rego query.
type Engine struct {
	config   Config
	logger   *zap.Logger
	compiled *rego.PreparedEvalQuery
	enabled  bool
	cache    *decisionCache
}

// NewEngine constructs an Engine and loads its bundle if enabled.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		config:  cfg,
		logger:  logger,
		enabled: cfg.Enabled,
		cache:   newDecisionCache(1000, 5*time.Minute),
	}
	if e.enabled {
		if err := e.LoadPolicies(); err != nil {
			if cfg.FailClosed {
				return nil, fmt.Errorf("policyopa: failed to load bundle in fail-closed mode: %w", err)
			}
			logger.Warn("policyopa: failed to load bundle, running fail-open (disabled)", zap.Error(err))
			e.enabled = false
		}
	}
	return e, nil
}

// IsEnabled reports whether a bundle is loaded and ready.
func (e *Engine) IsEnabled() bool {
	return e.enabled && e.compiled != nil
}

// LoadPolicies compiles every .rego file under BundlePath.
func (e *Engine) LoadPolicies() error {
	if !e.config.Enabled {
		return nil
	}
	modules := make(map[string]string)
	err := filepath.Walk(e.config.BundlePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.config.BundlePath, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk bundle path: %w", err)
	}
	if len(modules) == 0 {
		if e.config.FailClosed {
			return fmt.Errorf("no policy modules found in fail-closed mode")
		}
		e.logger.Warn("policyopa: no .rego modules found", zap.String("path", e.config.BundlePath))
		return nil
	}

	opts := []func(*rego.Rego){rego.Query("data.maestro.modelhr.decision")}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}
	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policy bundle: %w", err)
	}
	e.compiled = &compiled
	e.logger.Info("policyopa: bundle loaded", zap.Int("moduleCount", len(modules)), zap.String("versionHash", bundleVersionHash(modules)))
	return nil
}

// Evaluate runs the additive veto for one eligibility check. An
// unconfigured or unloaded engine always allows.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if !e.IsEnabled() {
		return Decision{Allow: true, Reason: "policy bundle disabled"}, nil
	}

	if d, ok := e.cache.Get(in); ok {
		return d, nil
	}

	inputMap, err := toMap(in)
	if err != nil {
		if e.config.FailClosed {
			return Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return Decision{Allow: true, Reason: "input conversion failed; fail-open"}, nil
	}

	results, err := e.compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if e.config.FailClosed {
			return Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return Decision{Allow: true, Reason: "policy evaluation error; fail-open"}, nil
	}

	decision := parseResults(results)
	e.cache.Set(in, decision)
	return decision, nil
}

func toMap(in Input) (map[string]interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseResults(results rego.ResultSet) Decision {
	decision := Decision{Allow: true, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}
	value := results[0].Expressions[0].Value
	if m, ok := value.(map[string]interface{}); ok {
		if allow, ok := m["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := m["reason"].(string); ok {
			decision.Reason = reason
		}
		return decision
	}
	if allow, ok := value.(bool); ok {
		decision.Allow = allow
		if allow {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

func bundleVersionHash(modules map[string]string) string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sortStrings(names)
	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte(modules[name]))
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// --- decision cache: LRU with TTL, grounded on the same shape the
// teacher uses for its OPA decision cache. ---

type decisionCache struct {
	cap  int
	ttl  time.Duration
	mu   sync.Mutex
	list *list.List
	m    map[string]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	expiresAt time.Time
	decision  Decision
}

func newDecisionCache(cap int, ttl time.Duration) *decisionCache {
	if cap <= 0 {
		cap = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &decisionCache{cap: cap, ttl: ttl, list: list.New(), m: make(map[string]*list.Element)}
}

func (c *decisionCache) makeKey(in Input) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(in.ModelID)))
	return fmt.Sprintf("%s|%s|%s|%s|%.2f", in.Provider, in.TaskType, in.Difficulty, in.TierProfile, in.Score) +
		fmt.Sprintf("|%x", h.Sum64())
}

func (c *decisionCache) Get(in Input) (Decision, bool) {
	key := c.makeKey(in)
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		ce := el.Value.(cacheEntry)
		if ce.expiresAt.After(now) {
			c.list.MoveToFront(el)
			atomic.AddInt64(&c.hits, 1)
			return ce.decision, true
		}
		c.list.Remove(el)
		delete(c.m, key)
	}
	atomic.AddInt64(&c.misses, 1)
	return Decision{}, false
}

func (c *decisionCache) Set(in Input, d Decision) {
	key := c.makeKey(in)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[key]; ok {
		el.Value = cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d}
		c.list.MoveToFront(el)
		return
	}
	el := c.list.PushFront(cacheEntry{key: key, expiresAt: time.Now().Add(c.ttl), decision: d})
	c.m[key] = el
	if c.list.Len() > c.cap {
		if lru := c.list.Back(); lru != nil {
			delete(c.m, lru.Value.(cacheEntry).key)
			c.list.Remove(lru)
		}
	}
}

// Stats returns cumulative cache hit/miss counts.
func (c *decisionCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}
