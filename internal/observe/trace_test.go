package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider globally for the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func spanAttr(s tracetest.SpanStub, key string) (string, bool) {
	for _, a := range s.Attributes {
		if string(a.Key) == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestConversation(t *testing.T) {
	if _, _, ok := Conversation(context.Background()); ok {
		t.Error("Conversation(background) ok = true, want false")
	}
	ctx := WithConversation(context.Background(), "gerald", "p1")
	npc, player, ok := Conversation(ctx)
	if !ok || npc != "gerald" || player != "p1" {
		t.Errorf("Conversation = %q, %q, %v, want gerald, p1, true", npc, player, ok)
	}
}

func TestStartSpan_ConversationAttributes(t *testing.T) {
	exp := useTracer(t)

	_, plain := StartSpan(context.Background(), "plain")
	plain.End()
	_, scoped := StartSpan(WithConversation(context.Background(), "gerald", "p1"), "scoped")
	scoped.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if _, ok := spanAttr(spans[0], string(AttrNPC)); ok {
		t.Error("span outside a conversation carries an npc attribute")
	}
	if got, _ := spanAttr(spans[1], string(AttrNPC)); got != "gerald" {
		t.Errorf("npc attribute = %q, want gerald", got)
	}
	if got, _ := spanAttr(spans[1], string(AttrPlayer)); got != "p1" {
		t.Errorf("player attribute = %q, want p1", got)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "turn")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("CorrelationID = %q, want 32 hex digits", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t, slog.LevelInfo)

	Logger(context.Background()).Info("bare")
	bare := buf.String()
	if strings.Contains(bare, "trace_id") || strings.Contains(bare, "npc=") {
		t.Errorf("bare log line = %q, want no trace or conversation IDs", bare)
	}

	buf.Reset()
	ctx, span := StartSpan(WithConversation(context.Background(), "gerald", "p1"), "turn")
	defer span.End()
	Logger(ctx).Info("scoped")
	for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "npc=gerald", "player=p1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("scoped log line = %q, missing %q", buf.String(), want)
		}
	}
}

func TestEndSpan(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed")
	EndSpan(failed, errors.New("provider down"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code == codes.Error {
		t.Error("span ended without error has status Error")
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "provider down" {
		t.Errorf("failed span status = %+v, want Error provider down", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span has no error event")
	}
}

func TestProviderConfig_Sampler(t *testing.T) {
	for _, ratio := range []float64{0, 1, 2} {
		if got := (ProviderConfig{SampleRatio: ratio}).sampler().Description(); !strings.Contains(got, "AlwaysOnSampler") {
			t.Errorf("sampler(%v) = %s, want AlwaysOnSampler", ratio, got)
		}
	}
	if got := (ProviderConfig{SampleRatio: 0.25}).sampler().Description(); !strings.Contains(got, "TraceIDRatioBased{0.25}") {
		t.Errorf("sampler(0.25) = %s, want TraceIDRatioBased{0.25}", got)
	}
}
