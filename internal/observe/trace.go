package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/npcmind"

// Attribute keys shared by spans and log records.
const (
	AttrNPC    = attribute.Key("npcmind.npc")
	AttrPlayer = attribute.Key("npcmind.player")
)

type conversationKey struct{}

type conversation struct{ npc, player string }

// WithConversation returns a context scoped to the conversation between npc
// and player. Spans started with [StartSpan] and loggers returned by
// [Logger] for the context carry both IDs.
func WithConversation(ctx context.Context, npc, player string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversation{npc: npc, player: player})
}

// Conversation returns the IDs set by [WithConversation].
func Conversation(ctx context.Context) (npc, player string, ok bool) {
	c, ok := ctx.Value(conversationKey{}).(conversation)
	return c.npc, c.player, ok
}

// Tracer returns the npcmind tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. Inside a conversation scope the span is tagged
// with [AttrNPC] and [AttrPlayer]. The caller ends the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if npc, player, ok := Conversation(ctx); ok {
		opts = append(opts, trace.WithAttributes(AttrNPC.String(npc), AttrPlayer.String(player)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with the trace and conversation IDs
// found in ctx attached.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if npc, player, ok := Conversation(ctx); ok {
		l = l.With(slog.String("npc", npc), slog.String("player", player))
	}
	return l
}
