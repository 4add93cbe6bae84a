// Package activitymap flattens auth activity events for audit logs and
// downstream consumers.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-portal-auth"
)

const (
	MetadataKeyActorType  = "actor_type"
	MetadataKeyRole       = "role"
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "account"
	defaultActorID    = "system"
)

// Record is the flat shape of an activity event
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	objectType    string
	actorFallback string
}

func WithChannel(channel string) Option {
	return func(o *options) {
		o.channel = strings.TrimSpace(channel)
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		o.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback is used when the event carries no actor id
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		o.actorFallback = strings.TrimSpace(actorID)
	}
}

// Normalize converts an event into a Record. The subject account is the
// record object, role and status changes move into metadata.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	actorID := strings.TrimSpace(event.Actor.ID)
	if actorID == "" {
		actorID = o.actorFallback
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Record{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.SubjectID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

func metadata(event auth.ActivityEvent) map[string]any {
	out := make(map[string]any, len(event.Metadata)+4)
	for k, v := range event.Metadata {
		out[k] = v
	}

	set := func(key, value string) {
		if value == "" {
			return
		}
		if _, exists := out[key]; !exists {
			out[key] = value
		}
	}
	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type))
	set(MetadataKeyRole, string(event.Role))

	if event.FromStatus != "" {
		out[MetadataKeyFromStatus] = string(event.FromStatus)
	}
	if event.ToStatus != "" {
		out[MetadataKeyToStatus] = string(event.ToStatus)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// LogSink writes every event as one structured log line
func LogSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		r := Normalize(event, opts...)
		logger.Info("activity",
			"verb", r.Verb,
			"actor_id", r.ActorID,
			"object_type", r.ObjectType,
			"object_id", r.ObjectID,
			"channel", r.Channel,
			"metadata", r.Metadata,
			"occurred_at", r.OccurredAt,
		)
		return nil
	})
}
