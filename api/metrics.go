package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "prism-board/api"
	boardSpanName      = "prism.board.request"
	boardEventDomain   = "prism.board"
	observabilityEvent = "observability.event"
	attrPrefix         = "prism.board."
)

// requestMetrics collects timings for one board request and reports them as
// a span plus a structured log entry.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	route  string
	event  string
	start  time.Time

	decodeDuration time.Duration
	storeDuration  time.Duration
	changes        int
	replayed       bool
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, event string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		event:  event,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decodeDuration = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *requestMetrics) SetChanges(n int) {
	if n < 0 {
		n = 0
	}
	m.changes = n
}

func (m *requestMetrics) SetReplayed(replayed bool) {
	m.replayed = replayed
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	attrs := newAttrSet()
	attrs.putString("http.route", m.route)
	attrs.putInt("http.status_code", status)
	attrs.putFloat(attrPrefix+"total_ms", durationToMillis(time.Since(m.start)))
	attrs.putInt(attrPrefix+"changes", m.changes)
	attrs.putBool(attrPrefix+"replayed", m.replayed)
	if m.decodeDuration > 0 {
		attrs.putFloat(attrPrefix+"decode_ms", durationToMillis(m.decodeDuration))
	}
	if m.storeDuration > 0 {
		attrs.putFloat(attrPrefix+"store_ms", durationToMillis(m.storeDuration))
	}
	if m.errorStage != "" {
		attrs.putString(attrPrefix+"error_stage", m.errorStage)
	}
	if err != nil {
		attrs.putString("error.message", err.Error())
	}

	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs.kvs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", m.event),
			attribute.String("event.domain", boardEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs.kvs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      m.event,
		"event.domain":    boardEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs.values,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

type attrSet struct {
	kvs    []attribute.KeyValue
	values map[string]any
}

func newAttrSet() *attrSet {
	return &attrSet{values: make(map[string]any)}
}

func (a *attrSet) putString(k, v string) {
	a.kvs = append(a.kvs, attribute.String(k, v))
	a.values[k] = v
}

func (a *attrSet) putInt(k string, v int) {
	a.kvs = append(a.kvs, attribute.Int(k, v))
	a.values[k] = v
}

func (a *attrSet) putFloat(k string, v float64) {
	a.kvs = append(a.kvs, attribute.Float64(k, v))
	a.values[k] = v
}

func (a *attrSet) putBool(k string, v bool) {
	a.kvs = append(a.kvs, attribute.Bool(k, v))
	a.values[k] = v
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
