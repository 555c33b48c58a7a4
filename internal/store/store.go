package store

import (
	"context"
	"time"

	"github.com/contractr/contractr/internal/model"
)

// Store is the repository for projects and everything hanging off them.
// Implementations return errors wrapping model.ErrNotFound for missing
// entities.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	// UpdateProjectStatus moves a project from one status to another only if
	// it is still in from. A stale from yields model.ErrInvalidTransition.
	UpdateProjectStatus(ctx context.Context, id string, from, to model.ProjectStatus) error

	// Providers
	// UpsertProvider inserts p unless a provider with the same project and
	// website exists, in which case p is overwritten with the stored row and
	// created is false.
	UpsertProvider(ctx context.Context, p *model.Provider) (created bool, err error)
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	ListProviders(ctx context.Context, projectID string) ([]model.Provider, error)

	// Contacts
	AddContact(ctx context.Context, c *model.ContactMethod) error
	ListContacts(ctx context.Context, providerID string) ([]model.ContactMethod, error)
	FindContacts(ctx context.Context, kind model.Channel, address string) ([]model.ContactMethod, error)
	DisallowContacts(ctx context.Context, kind model.Channel, address string) (int64, error)

	// Threads
	// CreateThread fails with ErrConflict if the provider already has an open
	// thread on the channel.
	CreateThread(ctx context.Context, t *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	FindOpenThread(ctx context.Context, providerID string, channel model.Channel) (*model.Thread, error)
	ListThreads(ctx context.Context, providerID string) ([]model.Thread, error)
	// ClaimThread marks the thread's first send as in progress. It reports
	// false when another caller holds a claim newer than staleBefore.
	ClaimThread(ctx context.Context, threadID string, now, staleBefore time.Time) (bool, error)
	ReleaseThread(ctx context.Context, threadID string) error
	UnsubscribeThreads(ctx context.Context, kind model.Channel, address string) (int64, error)
	CloseProjectThreads(ctx context.Context, projectID string) (int64, error)

	// Messages
	AppendMessage(ctx context.Context, m *model.Message) error
	ListMessages(ctx context.Context, threadID string) ([]model.Message, error)

	// Quotes
	SaveQuote(ctx context.Context, q *model.Quote) error
	LatestQuote(ctx context.Context, providerID string) (*model.Quote, error)
	ListQuotes(ctx context.Context, projectID string) ([]model.Quote, error)

	// Events
	AppendEvent(ctx context.Context, e *model.Event) error
	ListEvents(ctx context.Context, projectID string) ([]model.Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
