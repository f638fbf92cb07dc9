package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeRegoModule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write rego module: %v", err)
	}
}

func TestNewEngine_DisabledAlwaysAllows(t *testing.T) {
	e, err := NewEngine(Config{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.IsEnabled() {
		t.Fatal("expected disabled engine to report IsEnabled() == false")
	}
	d, err := e.Evaluate(context.Background(), Input{ModelID: "openai/gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Error("expected disabled engine to allow")
	}
}

func TestNewEngine_MissingBundleFailOpen(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(Config{Enabled: true, BundlePath: filepath.Join(dir, "missing"), FailClosed: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("expected fail-open to swallow load error, got %v", err)
	}
	if e.IsEnabled() {
		t.Fatal("expected engine to fall back to disabled after load failure")
	}
}

func TestNewEngine_MissingBundleFailClosedErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEngine(Config{Enabled: true, BundlePath: filepath.Join(dir, "missing"), FailClosed: true}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error constructing fail-closed engine with unreadable bundle path")
	}
}

func TestEvaluate_AllowRule(t *testing.T) {
	dir := t.TempDir()
	writeRegoModule(t, dir, "allow.rego", `package maestro.modelhr

decision = {"allow": true, "reason": "ok"} {
	input.modelId != ""
}`)
	e, err := NewEngine(Config{Enabled: true, BundlePath: dir}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if !e.IsEnabled() {
		t.Fatal("expected engine to be enabled after loading a valid bundle")
	}
	d, err := e.Evaluate(context.Background(), Input{ModelID: "openai/gpt-4o-mini", Provider: "openai"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d.Allow {
		t.Errorf("expected allow, got %+v", d)
	}
}

func TestEvaluate_DenyRule(t *testing.T) {
	dir := t.TempDir()
	writeRegoModule(t, dir, "deny.rego", `package maestro.modelhr

decision = {"allow": false, "reason": "blocked_provider"} {
	input.provider == "untrusted"
}

decision = {"allow": true, "reason": "ok"} {
	input.provider != "untrusted"
}`)
	e, err := NewEngine(Config{Enabled: true, BundlePath: dir}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	d, err := e.Evaluate(context.Background(), Input{ModelID: "untrusted/model-x", Provider: "untrusted"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Allow {
		t.Errorf("expected deny for untrusted provider, got %+v", d)
	}

	d2, err := e.Evaluate(context.Background(), Input{ModelID: "openai/gpt-4o-mini", Provider: "openai"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !d2.Allow {
		t.Errorf("expected allow for trusted provider, got %+v", d2)
	}
}

func TestEvaluate_CachesDecision(t *testing.T) {
	dir := t.TempDir()
	writeRegoModule(t, dir, "allow.rego", `package maestro.modelhr

decision := {"allow": true, "reason": "ok"}`)
	e, err := NewEngine(Config{Enabled: true, BundlePath: dir}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	in := Input{ModelID: "openai/gpt-4o-mini", Provider: "openai"}
	if _, err := e.Evaluate(context.Background(), in); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if _, ok := e.cache.Get(in); !ok {
		t.Fatal("expected decision to be cached after first Evaluate")
	}
	hits, misses := e.cache.Stats()
	if misses != 1 || hits != 1 {
		t.Errorf("Stats() = hits=%d misses=%d, want hits=1 misses=1 (Get above counts as the hit)", hits, misses)
	}
}

func TestDecisionCache_EvictsLRUBeyondCapacity(t *testing.T) {
	c := newDecisionCache(2, 0)
	a := Input{ModelID: "a"}
	b := Input{ModelID: "b"}
	cc := Input{ModelID: "c"}

	c.Set(a, Decision{Allow: true})
	c.Set(b, Decision{Allow: true})
	c.Set(cc, Decision{Allow: true})

	if _, ok := c.Get(a); ok {
		t.Error("expected oldest entry 'a' to be evicted once capacity exceeded")
	}
	if _, ok := c.Get(b); !ok {
		t.Error("expected 'b' to still be cached")
	}
	if _, ok := c.Get(cc); !ok {
		t.Error("expected 'c' to still be cached")
	}
}

func TestDecisionCache_ExpiresByTTL(t *testing.T) {
	c := newDecisionCache(10, -1) // ttl<=0 resolves to the 30s default
	in := Input{ModelID: "x"}
	c.Set(in, Decision{Allow: true})
	if _, ok := c.Get(in); !ok {
		t.Fatal("expected immediate read to hit cache")
	}
	// Force expiry by rewriting the entry with a past expiresAt directly.
	c.mu.Lock()
	if el, ok := c.m[c.makeKey(in)]; ok {
		ce := el.Value.(cacheEntry)
		ce.expiresAt = ce.expiresAt.Add(-time.Hour)
		el.Value = ce
	}
	c.mu.Unlock()
	if _, ok := c.Get(in); ok {
		t.Error("expected expired entry to miss")
	}
}
