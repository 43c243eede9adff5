package events

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Writer emits audit events as structured log records. Nothing is stored.
// The zero Writer discards events.
type Writer struct {
	Logger *log.Logger
	Now    func() time.Time
}

type EventPayload map[string]any

type actorKey struct{}

// WithActor attaches the acting principal to ctx for audit records.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actorID))
}

// ActorFromContext returns the actor attached by WithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey{}).(string)
	return actor, ok && actor != ""
}

func (w Writer) Append(ctx context.Context, evtType, entityKind, entityID string, payload EventPayload) {
	if w.Logger == nil {
		return
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = "anonymous"
	}
	keyvals := []any{
		"ts", now().UTC().Format(time.RFC3339),
		"type", evtType,
		"entity_kind", entityKind,
		"actor_id", actor,
	}
	if entityID != "" {
		keyvals = append(keyvals, "entity_id", entityID)
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyvals = append(keyvals, k, payload[k])
	}
	w.Logger.Info("audit", keyvals...)
}
