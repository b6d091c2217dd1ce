// Package provider knows how to assemble the command line for each AI CLI
// the daemon can drive inside a PTY. It is a static, read-mostly registry
// created once at daemon start; sessions consult it to resolve a provider
// and model and to build argv/env for a spawn.
package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"wtmux/internal/wireerr"
)

// Mode selects which form of a provider's command to build.
type Mode int

const (
	// ModeNew starts a fresh AI session, optionally pre-seeded with a
	// session id the daemon generated and an initial prompt.
	ModeNew Mode = iota
	// ModeResume reattaches to the provider's previous transcript.
	ModeResume
	// ModeOneShot runs a single non-resumable turn.
	ModeOneShot
)

// BuildResult is the argv/env a provider wants spawned.
type BuildResult struct {
	Argv []string
	Env  []string
}

// SessionInfo is what ReadSessionInfo reports about a provider's own
// on-disk session record, used to opportunistically rename a session.
type SessionInfo struct {
	Description          string
	FirstUserMessageTime string
}

// Descriptor describes one registered AI provider.
type Descriptor struct {
	Name             string
	DisplayName      string
	Models           []string
	DefaultModel     string
	SupportsResume   bool
	HasLocalSessions bool

	// BuildCommand constructs argv/env for the given mode. sessionID is the
	// provider's own session identifier (meaningful for ModeNew/ModeResume);
	// prompt is the initial or one-shot user message.
	BuildCommand func(mode Mode, model, sessionID, prompt string) (BuildResult, error)

	// ReadSessionInfo opportunistically reads a side-car file the CLI
	// writes on its own, such as a transcript summary. ok is false when no
	// such record exists yet.
	ReadSessionInfo func(sessionID, worktree string) (info SessionInfo, ok bool)
}

// HasModel reports whether model is one of the provider's valid models.
func (d *Descriptor) HasModel(model string) bool {
	for _, m := range d.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Registry is the process-wide set of known providers.
type Registry struct {
	mu              sync.RWMutex
	providers       map[string]*Descriptor
	defaultProvider string
}

// NewRegistry builds a registry pre-populated with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{
		providers:       make(map[string]*Descriptor),
		defaultProvider: "claude",
	}
	r.Register(claudeDescriptor())
	r.Register(codexDescriptor())
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[d.Name] = d
}

// Get returns the named provider, if registered.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.providers[name]
	return d, ok
}

// ListProviders returns the registered provider names, sorted.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProviderName returns the registry's default provider name.
func (r *Registry) DefaultProviderName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

// GetOrError returns the named provider or a NotFound error embedding the
// list of valid providers.
func (r *Registry) GetOrError(name string) (*Descriptor, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, wireerr.New(wireerr.NotFound, "provider %q not found, available providers: %s", name, strings.Join(r.ListProviders(), ", "))
	}
	return d, nil
}

// ValidateModel checks that model is valid for provider, returning an
// InvalidArgument error embedding the valid model set when it is not.
func (r *Registry) ValidateModel(providerName, model string) error {
	d, err := r.GetOrError(providerName)
	if err != nil {
		return err
	}
	if d.HasModel(model) {
		return nil
	}
	return wireerr.New(wireerr.InvalidArgument, "invalid model %q for provider %q, available models: %s", model, providerName, strings.Join(d.Models, ", "))
}

// Ref is a resolved, validated (provider, model) pair.
type Ref struct {
	Name  string
	Model string
}

// NewRef resolves defaults and validates the provider/model choice. A nil
// name or model falls back to the registry default / the provider's
// default model respectively.
func NewRef(registry *Registry, name, model *string) (*Ref, error) {
	providerName := registry.DefaultProviderName()
	if name != nil && *name != "" {
		providerName = *name
	}

	d, err := registry.GetOrError(providerName)
	if err != nil {
		return nil, err
	}

	resolvedModel := d.DefaultModel
	if model != nil && *model != "" {
		resolvedModel = *model
	}

	if err := registry.ValidateModel(providerName, resolvedModel); err != nil {
		return nil, err
	}

	return &Ref{Name: providerName, Model: resolvedModel}, nil
}

// ShellRef is the fixed reference used by shell sessions, which bypass the
// provider registry entirely.
func ShellRef() *Ref {
	return &Ref{Name: "shell", Model: ""}
}

func claudeDescriptor() *Descriptor {
	return &Descriptor{
		Name:             "claude",
		DisplayName:      "Claude Code",
		Models:           []string{"opus", "sonnet", "haiku"},
		DefaultModel:     "sonnet",
		SupportsResume:   true,
		HasLocalSessions: true,
		BuildCommand: func(mode Mode, model, sessionID, prompt string) (BuildResult, error) {
			argv := []string{"claude"}
			if model != "" {
				argv = append(argv, "--model", model)
			}
			switch mode {
			case ModeResume:
				if sessionID == "" {
					return BuildResult{}, fmt.Errorf("provider: claude resume requires a session id")
				}
				argv = append(argv, "--resume", sessionID)
			case ModeOneShot:
				argv = append(argv, "-p", prompt)
			case ModeNew:
				if sessionID != "" {
					argv = append(argv, "--session-id", sessionID)
				}
				if prompt != "" {
					argv = append(argv, prompt)
				}
			}
			return BuildResult{Argv: argv}, nil
		},
		ReadSessionInfo: readClaudeSessionInfo,
	}
}

func codexDescriptor() *Descriptor {
	return &Descriptor{
		Name:             "codex",
		DisplayName:      "OpenAI Codex",
		Models:           []string{"o4-mini", "gpt-4"},
		DefaultModel:     "o4-mini",
		SupportsResume:   true,
		HasLocalSessions: true,
		BuildCommand: func(mode Mode, model, sessionID, prompt string) (BuildResult, error) {
			argv := []string{"codex"}
			switch mode {
			case ModeResume:
				if sessionID == "" {
					return BuildResult{}, fmt.Errorf("provider: codex resume requires a session id")
				}
				argv = append(argv, "resume", sessionID)
			case ModeOneShot:
				argv = append(argv, "exec", prompt)
			case ModeNew:
				if sessionID != "" {
					argv = append(argv, "--session-id", sessionID)
				}
				if prompt != "" {
					argv = append(argv, prompt)
				}
			}
			if model != "" {
				argv = append(argv, "-m", model)
			}
			return BuildResult{Argv: argv}, nil
		},
		ReadSessionInfo: func(sessionID, worktree string) (SessionInfo, bool) {
			// codex has no documented on-disk transcript format to parse,
			// unlike claude's ~/.claude/projects/<slug>/<id>.jsonl.
			return SessionInfo{}, false
		},
	}
}
