package pmworker

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrNotFound      = errors.New("not found")
)

// Handlers is the set of events a host dispatches to the worker.
type Handlers interface {
	OnInstall(ctx context.Context) error
	OnActivate(ctx context.Context) error
	OnFetch(ctx context.Context, r *http.Request) (Result, error)
	OnSync(ctx context.Context, tag string) SyncReport
	OnPush(ctx context.Context, payload []byte) Notification
	OnNotificationClick(ctx context.Context, ev NotificationClick)
	OnNotificationClose(ctx context.Context, n Notification)
	OnMessage(ctx context.Context, msg ClientMessage, reply func(any))
}

// Cache is one named cache store.
type Cache interface {
	Match(ctx context.Context, key RequestKey) (Entry, bool, error)
	Put(ctx context.Context, key RequestKey, ent Entry) error
	Keys(ctx context.Context) ([]RequestKey, error)
}

// CacheStorage is the persistent set of named cache stores.
type CacheStorage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Delete(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
}

// ActionQueue is the durable offline-action queue owned by the foreground.
// List returns actions in enqueue order.
type ActionQueue interface {
	List(ctx context.Context) ([]OfflineAction, error)
	Remove(ctx context.Context, id string) error
	Enqueue(ctx context.Context, a OfflineAction) (string, error)
}

// AttemptRecorder is implemented by queues that can count failed replays.
// RecordFailure returns the attempt count after incrementing it.
type AttemptRecorder interface {
	RecordFailure(ctx context.Context, id string) (int, error)
}

// Doer performs outbound HTTP. *http.Client satisfies it.
type Doer interface {
	Do(r *http.Request) (*http.Response, error)
}

// Clients gives access to the application's open windows.
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	Focus(ctx context.Context, id string) error
	OpenWindow(ctx context.Context, url string) (Client, error)
	PostMessage(ctx context.Context, id string, msg ClientMessage) error
	Claim(ctx context.Context) error
}

// Notifier renders notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, tag string) error
}

// Beacon sends best-effort analytics. Implementations swallow failures.
type Beacon interface {
	Send(ctx context.Context, url string, payload any)
}
