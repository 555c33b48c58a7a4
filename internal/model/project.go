package model

import (
	"slices"
	"time"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusDraft            ProjectStatus = "draft"
	ProjectStatusSourcing         ProjectStatus = "sourcing"
	ProjectStatusAwaitingApproval ProjectStatus = "awaiting_approval"
	ProjectStatusOutreach         ProjectStatus = "outreach"
	ProjectStatusNegotiating      ProjectStatus = "negotiating"
	ProjectStatusClosed           ProjectStatus = "closed"
)

// transitions lists the allowed outgoing edges for each status. Closing is
// handled separately since every non-terminal status may close.
var transitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusDraft:            {ProjectStatusSourcing},
	ProjectStatusSourcing:         {ProjectStatusAwaitingApproval, ProjectStatusDraft},
	ProjectStatusAwaitingApproval: {ProjectStatusOutreach},
	ProjectStatusOutreach:         {ProjectStatusNegotiating},
	ProjectStatusNegotiating:      {},
}

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	if s == ProjectStatusClosed {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s ProjectStatus) Terminal() bool {
	return s == ProjectStatusClosed
}

// Active reports whether outbound messages may be sent in s.
func (s ProjectStatus) Active() bool {
	return s == ProjectStatusOutreach || s == ProjectStatusNegotiating
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to ProjectStatus) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == ProjectStatusClosed {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// Channel is an outreach medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Project is a client's request for a service.
type Project struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Address         string         `json:"address"`
	City            string         `json:"city"`
	Zip             string         `json:"zip"`
	BudgetMax       *float64       `json:"budget_max,omitempty"`
	DateWindow      string         `json:"date_window"`
	Description     string         `json:"description,omitempty"`
	MustHaves       []string       `json:"must_haves"`
	NiceToHaves     []string       `json:"nice_to_haves"`
	ChannelsAllowed []Channel      `json:"channels_allowed"`
	QuietHours      string         `json:"quiet_hours,omitempty"`
	Autopilot       bool           `json:"autopilot"`
	SeedProviders   []SeedProvider `json:"seed_providers,omitempty"`
	Status          ProjectStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SeedProvider is a provider the client already knows about and wants
// contacted alongside discovered ones.
type SeedProvider struct {
	Name    string `json:"name" yaml:"name"`
	Website string `json:"website" yaml:"website"`
}

// AllowsChannel reports whether the project permits outreach over c.
func (p *Project) AllowsChannel(c Channel) bool {
	return slices.Contains(p.ChannelsAllowed, c)
}

// Provider is a candidate business discovered for a project.
type Provider struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Name            string    `json:"name"`
	Website         string    `json:"website"`
	ServiceAreaText string    `json:"service_area_text,omitempty"`
	Score           float64   `json:"score"`
	EvidenceURLs    []string  `json:"evidence_urls"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ContactMethod is a way of reaching a provider.
type ContactMethod struct {
	ID         string  `json:"id"`
	ProviderID string  `json:"provider_id"`
	Kind       Channel `json:"kind"`
	Value      string  `json:"value"`
	SourceURL  string  `json:"source_url,omitempty"`
	Confidence float64 `json:"confidence"`
	Allowed    bool    `json:"allowed"`
}

// ThreadStatus is the state of a conversation.
type ThreadStatus string

const (
	ThreadStatusOpen   ThreadStatus = "open"
	ThreadStatusClosed ThreadStatus = "closed"
)

// Thread is a conversation with one provider over one channel.
type Thread struct {
	ID          string       `json:"id"`
	ProviderID  string       `json:"provider_id"`
	Channel     Channel      `json:"channel"`
	Status      ThreadStatus `json:"status"`
	Unsubscribe bool         `json:"unsubscribe"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Direction says which side of the conversation produced a message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one entry in a thread.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Direction Direction `json:"direction"`
	Sender    string    `json:"sender"`
	Subject   string    `json:"subject,omitempty"`
	BodyText  string    `json:"body_text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is an entry in a project's audit trail.
type Event struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event types written to the audit trail.
const (
	EventProjectCreated    = "project.created"
	EventStatusChanged     = "status.changed"
	EventSourcingCompleted = "sourcing.completed"
	EventSourcingFailed    = "sourcing.failed"
	EventOutreachSent      = "outreach.sent"
	EventOutreachFailed    = "outreach.failed"
	EventMessageReceived   = "message.received"
	EventQuoteReceived     = "quote.received"
	EventCounterSent       = "negotiation.counter_sent"
	EventContactOptedOut   = "contact.opted_out"
)
