package activitymap

import (
	"strings"
	"time"

	auth "github.com/goliatone/go-session-auth"
)

// MetadataKeySessionID stores the session the event happened on.
const MetadataKeySessionID = "session_id"

const (
	defaultChannel    = "auth"
	defaultObjectType = "session"
	defaultActorID    = "anonymous"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	Outcome    string         `json:"outcome"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Fields flattens the record into key/value pairs for structured loggers.
func (n Normalized) Fields() []any {
	fields := []any{
		"actor_id", n.ActorID,
		"verb", n.Verb,
		"outcome", n.Outcome,
		"channel", n.Channel,
		"occurred_at", n.OccurredAt,
	}
	if n.ObjectID != "" {
		fields = append(fields, "object_type", n.ObjectType, "object_id", n.ObjectID)
	}
	if len(n.Metadata) > 0 {
		fields = append(fields, "metadata", n.Metadata)
	}
	return fields
}

type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an auth.ActivityEvent into a generic normalized shape.
// Events tied to a session use the session as object; the rest use the user.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	userID := strings.TrimSpace(event.UserID)
	sessionID := strings.TrimSpace(event.SessionID)

	out := Normalized{
		ActorID:    firstNonEmpty(userID, options.actorFallback),
		Verb:       string(event.EventType),
		Outcome:    outcomeOf(event.EventType),
		Channel:    options.channel,
		Metadata:   cloneMap(event.Metadata),
		OccurredAt: event.OccurredAt,
	}

	switch {
	case sessionID != "":
		out.ObjectType = defaultObjectType
		out.ObjectID = sessionID
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		out.Metadata[MetadataKeySessionID] = sessionID
	case userID != "":
		out.ObjectType = "user"
		out.ObjectID = userID
	}

	if out.OccurredAt.IsZero() {
		out.OccurredAt = options.now()
	}

	return out
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if c := strings.TrimSpace(channel); c != "" {
			opts.channel = c
		}
	}
}

// WithActorFallback sets the actor id used when the event has no user.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time source used for events without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func outcomeOf(eventType auth.ActivityEventType) string {
	switch eventType {
	case auth.ActivityEventLoginFailure, auth.ActivityEventRefreshFailure:
		return "failure"
	case auth.ActivityEventLoginLocked:
		return "denied"
	default:
		return "success"
	}
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
