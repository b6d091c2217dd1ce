// Package session couples a PTY with the metadata and state a single
// interactive AI (or shell) run needs: its identity, its provider/model
// choice, a terminal emulator for scrollback, and a bounded raw-byte ring
// for replay on attach.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wtmux/internal/provider"
	"wtmux/internal/pty"
	"wtmux/internal/vtscreen"
	"wtmux/internal/wireerr"
)

// Kind is the tagged-union discriminant for a session's execution mode.
type Kind string

const (
	KindInteractive Kind = "interactive"
	KindOneShot     Kind = "oneshot"
	KindShell       Kind = "shell"
)

// Variant carries the fields specific to each Kind. ProviderSessionID and
// Started are only meaningful when Kind == KindInteractive.
type Variant struct {
	Kind              Kind
	ProviderSessionID string
	Started           bool
}

// Status is the derived run state of a session.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// HistoryWriter persists a session's raw ring snapshot. Implemented by the
// on-disk store; Stop calls it best-effort.
type HistoryWriter interface {
	WriteHistory(sessionID string, data []byte) error
}

// Session is the central runtime entity: a PTY plus its screen, scrollback,
// and provider bookkeeping.
type Session struct {
	ID           string
	Name         string
	RepoID       string
	Branch       string
	WorktreePath string
	Provider     string
	Model        string
	// Prompt is the pending one-shot or initial-interactive message. An
	// Interactive session clears it after its first successful spawn; a
	// OneShot session keeps it and passes it to every spawn.
	Prompt string

	CreatedAt time.Time

	mu sync.Mutex // guards everything below, and is the single per-session

	variant Variant
	handle  *pty.Handle
	parser  *vtscreen.Parser
	ring    *Ring
	rows    uint16
	cols    uint16

	renamedFromProvider bool
	logger              *slog.Logger
}

// New constructs a stopped session. rows/cols size the terminal emulator
// that will back every subsequent spawn.
func New(id, repoID, branch, worktreePath, providerName, model string, variant Variant, prompt string, rows, cols uint16, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:           id,
		RepoID:       repoID,
		Branch:       branch,
		WorktreePath: worktreePath,
		Provider:     providerName,
		Model:        model,
		Prompt:       prompt,
		CreatedAt:    time.Now(),
		variant:      variant,
		parser:       vtscreen.New(int(rows), int(cols)),
		ring:         NewRing(RingCapacity),
		rows:         rows,
		cols:         cols,
		logger:       logger,
	}
}

// Variant returns a copy of the session's current tagged-variant state.
func (s *Session) Variant() Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variant
}

// Status derives Running/Stopped from whether the PTY handle exists and
// its child is alive.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	if s.handle != nil && s.handle.IsRunning() {
		return StatusRunning
	}
	return StatusStopped
}

// Start spawns the PTY, selecting spawn parameters from the session's kind
// and provider. It is idempotent if a PTY is already running.
func (s *Session) Start(registry *provider.Registry, rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusLocked() == StatusRunning {
		return nil
	}

	env := []string{"TERM=xterm-256color"}

	var handle *pty.Handle
	var err error

	switch s.variant.Kind {
	case KindShell:
		handle, err = pty.SpawnShell(s.WorktreePath, env, rows, cols, s.logger)

	case KindOneShot:
		argv, buildEnv, berr := s.buildCommand(registry, provider.ModeOneShot, "")
		if berr != nil {
			return berr
		}
		handle, err = pty.Spawn(s.WorktreePath, argv, append(env, buildEnv...), rows, cols, s.logger)

	case KindInteractive:
		mode := provider.ModeResume
		if !s.variant.Started || s.Prompt != "" {
			mode = provider.ModeNew
		}
		argv, buildEnv, berr := s.buildCommand(registry, mode, s.variant.ProviderSessionID)
		if berr != nil {
			return berr
		}
		handle, err = pty.Spawn(s.WorktreePath, argv, append(env, buildEnv...), rows, cols, s.logger)

	default:
		return wireerr.New(wireerr.Internal, "session: unknown kind %q", s.variant.Kind)
	}

	if err != nil {
		return wireerr.Wrap(wireerr.Internal, err, "session: spawn failed")
	}

	s.handle = handle
	s.rows, s.cols = rows, cols
	s.parser.SetSize(int(rows), int(cols))

	if s.variant.Kind == KindInteractive {
		s.variant.Started = true
		s.Prompt = ""
	}

	return nil
}

func (s *Session) buildCommand(registry *provider.Registry, mode provider.Mode, sessionID string) ([]string, []string, error) {
	d, err := registry.GetOrError(s.Provider)
	if err != nil {
		return nil, nil, err
	}
	result, err := d.BuildCommand(mode, s.Model, sessionID, s.Prompt)
	if err != nil {
		return nil, nil, wireerr.Wrap(wireerr.Internal, err, "session: build command")
	}
	return result.Argv, result.Env, nil
}

// Stop kills the PTY. The parser and ring are preserved in memory for
// subsequent attaches; the raw ring is opportunistically persisted via w,
// best-effort — a failure here is logged, not returned.
func (s *Session) Stop(w HistoryWriter) error {
	s.mu.Lock()
	handle := s.handle
	snapshot := s.ring.Snapshot()
	s.mu.Unlock()

	if handle == nil {
		return nil
	}

	if err := handle.Kill(); err != nil {
		return fmt.Errorf("session: stop: %w", err)
	}

	if w != nil {
		if err := w.WriteHistory(s.ID, snapshot); err != nil {
			s.logger.Warn("session: failed to persist history", "session_id", s.ID, "error", err)
		}
	}

	return nil
}

// Write forwards input bytes to the PTY.
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return 0, wireerr.New(wireerr.FailedPrecondition, "session: not running")
	}
	return handle.Write(data)
}

// Resize changes the PTY dimensions and resizes the terminal emulator in
// lock-step.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows, s.cols = rows, cols
	s.parser.SetSize(int(rows), int(cols))

	if s.handle == nil {
		return nil
	}
	if err := s.handle.Resize(rows, cols); err != nil {
		return fmt.Errorf("session: resize: %w", err)
	}
	return nil
}

// Handle returns the live PTY handle, or nil if stopped. Used by the
// attach multiplexer's output pump, which is the sole reader of PTY output.
func (s *Session) Handle() *pty.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// ProcessOutput pushes a chunk of PTY output into the terminal emulator and
// the raw ring atomically. Single-producer: only the output pump calls
// this; any other reader takes the session's mutex via the accessors below.
func (s *Session) ProcessOutput(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parser.Process(data)
	s.ring.Push(data)
}

// GetScreenState returns a copy of the current raw ring: the replay stream
// handed to a newly attached client before it starts receiving live output.
func (s *Session) GetScreenState() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Snapshot()
}

// ScreenLines returns the current visible screen as plain-text lines.
func (s *Session) ScreenLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.GetScreen()
}

// CursorPosition returns the terminal emulator's current cursor row/col,
// 0-indexed, for answering CSI 6n queries.
func (s *Session) CursorPosition() (row, col int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.CursorPosition()
}

// Size returns the session's current terminal dimensions.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// UpdateNameFromProvider opportunistically renames the session to a human
// summary read from the provider's own session-info side-car, the first
// time one becomes available. Runs at most once per session; a no-op
// thereafter or when the session name is already sticky.
func (s *Session) UpdateNameFromProvider(registry *provider.Registry, sticky bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renamedFromProvider || sticky {
		return false
	}
	if s.variant.Kind != KindInteractive || s.variant.ProviderSessionID == "" {
		return false
	}

	d, ok := registry.Get(s.Provider)
	if !ok || !d.HasLocalSessions || d.ReadSessionInfo == nil {
		return false
	}

	info, ok := d.ReadSessionInfo(s.variant.ProviderSessionID, s.WorktreePath)
	if !ok || info.Description == "" {
		return false
	}

	s.Name = info.Description
	s.renamedFromProvider = true
	return true
}
