// Package eventbus fans out daemon-wide events (session lifecycle, git
// status changes) to subscribed RPC clients. Each subscriber gets its own
// bounded queue; a subscriber whose queue is full is disconnected rather
// than blocking publishers.
package eventbus

import (
	"log/slog"
	"sync"
)

// Kind discriminates the envelope's payload.
type Kind string

const (
	SessionCreated       Kind = "session_created"
	SessionNameUpdated   Kind = "session_name_updated"
	SessionDestroyed     Kind = "session_destroyed"
	SessionStatusChanged Kind = "session_status_changed"
	WorktreeAdded        Kind = "worktree_added"
	WorktreeRemoved      Kind = "worktree_removed"
	GitStatusChanged     Kind = "git_status_changed"
	SessionNotification  Kind = "session_notification"
)

// Event is one published occurrence. RepoID is used to filter subscriptions
// scoped to a single repository; it is empty for events with no natural
// repo affinity.
type Event struct {
	Kind   Kind
	RepoID string
	Data   any
}

// SessionCreatedData is Data for a SessionCreated event.
type SessionCreatedData struct {
	SessionID string
}

// SessionNameUpdatedData is Data for a SessionNameUpdated event.
type SessionNameUpdatedData struct {
	SessionID string
	OldName   string
	NewName   string
}

// SessionDestroyedData is Data for a SessionDestroyed event.
type SessionDestroyedData struct {
	SessionID string
	Branch    string
}

// SessionStatusChangedData is Data for a SessionStatusChanged event.
type SessionStatusChangedData struct {
	SessionID string
	OldStatus string
	NewStatus string
}

// WorktreeAddedData is Data for a WorktreeAdded event.
type WorktreeAddedData struct {
	RepoID string
	Branch string
	Path   string
}

// WorktreeRemovedData is Data for a WorktreeRemoved event.
type WorktreeRemovedData struct {
	RepoID string
	Branch string
}

// GitStatusChangedData is Data for a GitStatusChanged event.
type GitStatusChangedData struct {
	Branch string
}

// SessionNotificationData is Data for a SessionNotification event: an OSC
// 9/777 notification a provider emitted in its PTY output.
type SessionNotificationData struct {
	SessionID string
	Title     string
	Message   string
}

// subscriberQueueSize bounds how many unconsumed events a subscriber can
// accumulate before Publish disconnects it.
const subscriberQueueSize = 256

// Bus is the process-wide event broadcaster.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	logger      *slog.Logger
}

type subscriber struct {
	repoFilter string // empty means all repos
	ch         chan Event
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subscribers: make(map[int]*subscriber), logger: logger}
}

// Subscription is a live subscriber handle. Events arrive on C; call
// Close when the subscriber goes away (e.g. the RPC stream disconnects).
type Subscription struct {
	id   int
	bus  *Bus
	C    <-chan Event
}

// Subscribe registers a new subscriber, optionally filtered to one repo's
// events (pass "" for every repo).
func (b *Bus) Subscribe(repoFilter string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberQueueSize)
	b.subscribers[id] = &subscriber{repoFilter: repoFilter, ch: ch}

	return &Subscription{id: id, bus: b, C: ch}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Publish broadcasts ev to every matching subscriber. A subscriber whose
// queue is already full is disconnected (its channel is closed and it is
// unregistered) rather than having the publisher block on it; the client
// side is expected to treat a closed subscription as a signal to
// resubscribe.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	var overflowed []int
	for id, sub := range b.subscribers {
		if sub.repoFilter != "" && ev.RepoID != "" && sub.repoFilter != ev.RepoID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			overflowed = append(overflowed, id)
		}
	}
	b.mu.RUnlock()

	if len(overflowed) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range overflowed {
		if sub, ok := b.subscribers[id]; ok {
			b.logger.Warn("eventbus: disconnecting slow subscriber", "kind", ev.Kind)
			close(sub.ch)
			delete(b.subscribers, id)
		}
	}
	b.mu.Unlock()
}

// EmitSessionCreated publishes a SessionCreated event for repoID.
func (b *Bus) EmitSessionCreated(repoID, sessionID string) {
	b.Publish(Event{Kind: SessionCreated, RepoID: repoID, Data: SessionCreatedData{SessionID: sessionID}})
}

// EmitSessionNameUpdated publishes a SessionNameUpdated event for repoID.
func (b *Bus) EmitSessionNameUpdated(repoID, sessionID, oldName, newName string) {
	b.Publish(Event{Kind: SessionNameUpdated, RepoID: repoID, Data: SessionNameUpdatedData{
		SessionID: sessionID, OldName: oldName, NewName: newName,
	}})
}

// EmitSessionDestroyed publishes a SessionDestroyed event for repoID.
func (b *Bus) EmitSessionDestroyed(repoID, sessionID, branch string) {
	b.Publish(Event{Kind: SessionDestroyed, RepoID: repoID, Data: SessionDestroyedData{
		SessionID: sessionID, Branch: branch,
	}})
}

// EmitSessionStatusChanged publishes a SessionStatusChanged event for repoID.
func (b *Bus) EmitSessionStatusChanged(repoID, sessionID, oldStatus, newStatus string) {
	b.Publish(Event{Kind: SessionStatusChanged, RepoID: repoID, Data: SessionStatusChangedData{
		SessionID: sessionID, OldStatus: oldStatus, NewStatus: newStatus,
	}})
}

// EmitWorktreeAdded publishes a WorktreeAdded event for repoID.
func (b *Bus) EmitWorktreeAdded(repoID, branch, path string) {
	b.Publish(Event{Kind: WorktreeAdded, RepoID: repoID, Data: WorktreeAddedData{
		RepoID: repoID, Branch: branch, Path: path,
	}})
}

// EmitWorktreeRemoved publishes a WorktreeRemoved event for repoID.
func (b *Bus) EmitWorktreeRemoved(repoID, branch string) {
	b.Publish(Event{Kind: WorktreeRemoved, RepoID: repoID, Data: WorktreeRemovedData{
		RepoID: repoID, Branch: branch,
	}})
}

// EmitGitStatusChanged publishes a GitStatusChanged event for repoID/branch.
func (b *Bus) EmitGitStatusChanged(repoID, branch string) {
	b.Publish(Event{Kind: GitStatusChanged, RepoID: repoID, Data: GitStatusChangedData{Branch: branch}})
}

// EmitSessionNotification publishes a SessionNotification event for repoID.
func (b *Bus) EmitSessionNotification(repoID, sessionID, title, message string) {
	b.Publish(Event{Kind: SessionNotification, RepoID: repoID, Data: SessionNotificationData{
		SessionID: sessionID, Title: title, Message: message,
	}})
}

// SubscriberCount reports the current number of live subscribers. Used by
// diagnostics/tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
