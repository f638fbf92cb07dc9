// Package contracts declares the collaborator interfaces the core
// domain depends on but does not implement directly (spec.md §6
// "Collaborator contracts consumed by the core"). Concrete
// implementations — an LLM provider client, a deterministic planner, a
// file or db persistence driver, an env-backed credentials resolver, a
// directory/zip materialiser — are wired in at process start, never
// imported directly by internal/runner, internal/router or
// internal/modelhr.
package contracts

import "context"

// Usage reports token consumption from a single LLM call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TextResult is the return shape of LLMTextExecutor.
type TextResult struct {
	Text   string
	Usage  Usage
	Status string
	Error  string
}

// LLMTextExecutor performs a single non-streaming text completion call.
type LLMTextExecutor interface {
	ExecuteText(ctx context.Context, modelID, prompt string, maxTokens int) (TextResult, error)
}

// LLMJSONExecutor performs a single non-streaming call constrained to a
// JSON schema, failing on parse mismatch rather than returning partial
// or malformed JSON.
type LLMJSONExecutor interface {
	ExecuteJSONStrict(ctx context.Context, modelID, prompt string, schema interface{}) (map[string]interface{}, error)
}

// ProjectSubtask is one unit produced by a DirectiveDecomposer.
type ProjectSubtask struct {
	ID           string
	TaskType     string
	Difficulty   string
	Prompt       string
	Dependencies []string
}

// DirectiveDecomposer is the deterministic planner stub referenced by
// spec.md §6: ctx.deterministicDecomposeDirective(directive).
type DirectiveDecomposer interface {
	Decompose(directive string) ([]ProjectSubtask, error)
}

// PersistenceDriverKind is the selectable storage backend behind the
// PERSISTENCE_DRIVER env switch (file default, db alternative).
type PersistenceDriverKind string

const (
	PersistenceDriverFile PersistenceDriverKind = "file"
	PersistenceDriverDB   PersistenceDriverKind = "db"
)

// PersistenceDriverSelector resolves PERSISTENCE_DRIVER to a kind,
// defaulting to file when unset or unrecognised.
type PersistenceDriverSelector interface {
	Selected() PersistenceDriverKind
}

// CredentialStatus is the result of CredentialsResolver.CheckStatus.
type CredentialStatus struct {
	Status      string // "connected" | "missing"
	MissingVars []string
}

// CredentialsResolver reads provider credentials from the environment
// only (spec.md §6: "Reads only from env").
type CredentialsResolver interface {
	CheckStatus(providerID string) CredentialStatus
	GetCredential(providerID, key string) (string, bool)
}

// Materializer copies an assembled output directory into a workspace
// path and optionally produces a single deliverable archive. Zip and
// git-commit support are both non-goals of the core assembler; this
// interface is the seam a harness-specific implementation plugs into.
type Materializer interface {
	Materialize(ctx context.Context, assembledDir, workspacePath string) error
	Archive(ctx context.Context, assembledDir, archivePath string) error
}
