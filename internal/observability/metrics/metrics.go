package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP
// requests, chat throughput, delivery warnings, and live WebSocket
// connections. It coordinates concurrent writers via a RWMutex while exposing
// thread-safe gauges for connection tracking.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	chatEvents        map[string]uint64
	connectionEvents  map[string]uint64
	deliveryWarnings  atomic.Uint64
	activeConnections atomic.Int64
	onlineUsers       atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		chatEvents:       make(map[string]uint64),
		connectionEvents: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveChatEvent records a chat event type for throughput monitoring.
func (r *Recorder) ObserveChatEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.chatEvents[normalized]++
	r.mu.Unlock()
}

// ObserveDeliveryWarning counts a fan-out delivery that failed after the
// message was already committed.
func (r *Recorder) ObserveDeliveryWarning() {
	r.deliveryWarnings.Add(1)
}

// ConnectionOpened records a WebSocket connection reaching the active state.
func (r *Recorder) ConnectionOpened() {
	r.incrementConnectionEvent("opened")
	r.activeConnections.Add(1)
}

// ConnectionClosed records a WebSocket connection leaving the active state,
// guarding against negative counts when concurrent updates race.
func (r *Recorder) ConnectionClosed() {
	r.incrementConnectionEvent("closed")
	r.decrementGauge(&r.activeConnections)
}

func (r *Recorder) incrementConnectionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.connectionEvents[normalized]++
	r.mu.Unlock()
}

// SetOnlineUsers records the current size of the presence registry.
func (r *Recorder) SetOnlineUsers(count int) {
	if count < 0 {
		count = 0
	}
	r.onlineUsers.Store(int64(count))
}

// ActiveConnections exposes the current WebSocket connection gauge.
func (r *Recorder) ActiveConnections() int64 {
	return r.activeConnections.Load()
}

// DeliveryWarnings exposes the running count of post-commit delivery failures.
func (r *Recorder) DeliveryWarnings() uint64 {
	return r.deliveryWarnings.Load()
}

// ChatEventCounts returns a copy of the per-type chat event counters.
func (r *Recorder) ChatEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.chatEvents))
	for event, count := range r.chatEvents {
		counts[event] = count
	}
	return counts
}

// Reset clears all counters and gauges. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.chatEvents = make(map[string]uint64)
	r.connectionEvents = make(map[string]uint64)
	r.deliveryWarnings.Store(0)
	r.activeConnections.Store(0)
	r.onlineUsers.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	chatEvents := r.sortedChatEvents()
	connectionEvents := r.sortedConnectionEvents()

	fmt.Fprintln(w, "# HELP chatbackend_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE chatbackend_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "chatbackend_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP chatbackend_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE chatbackend_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "chatbackend_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP chatbackend_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE chatbackend_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "chatbackend_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP chatbackend_chat_events_total Chat events by type")
	fmt.Fprintln(w, "# TYPE chatbackend_chat_events_total counter")
	for _, event := range chatEvents {
		count := r.chatEvents[event]
		fmt.Fprintf(w, "chatbackend_chat_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP chatbackend_connection_events_total WebSocket connection lifecycle events by type")
	fmt.Fprintln(w, "# TYPE chatbackend_connection_events_total counter")
	for _, event := range connectionEvents {
		count := r.connectionEvents[event]
		fmt.Fprintf(w, "chatbackend_connection_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP chatbackend_active_connections Current number of active WebSocket connections")
	fmt.Fprintln(w, "# TYPE chatbackend_active_connections gauge")
	fmt.Fprintf(w, "chatbackend_active_connections %d\n", r.activeConnections.Load())

	fmt.Fprintln(w, "# HELP chatbackend_online_users Current number of users with at least one live connection")
	fmt.Fprintln(w, "# TYPE chatbackend_online_users gauge")
	fmt.Fprintf(w, "chatbackend_online_users %d\n", r.onlineUsers.Load())

	fmt.Fprintln(w, "# HELP chatbackend_delivery_warnings_total Fan-out deliveries that failed after commit")
	fmt.Fprintln(w, "# TYPE chatbackend_delivery_warnings_total counter")
	fmt.Fprintf(w, "chatbackend_delivery_warnings_total %d\n", r.deliveryWarnings.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedChatEvents() []string {
	events := make([]string, 0, len(r.chatEvents))
	for event := range r.chatEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func (r *Recorder) sortedConnectionEvents() []string {
	events := make([]string, 0, len(r.connectionEvents))
	for event := range r.connectionEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveChatEvent records a chat event on the default recorder.
func ObserveChatEvent(event string) {
	defaultRecorder.ObserveChatEvent(event)
}

// ObserveDeliveryWarning counts a failed post-commit delivery on the default recorder.
func ObserveDeliveryWarning() {
	defaultRecorder.ObserveDeliveryWarning()
}

// ConnectionOpened increments connection gauges on the default recorder.
func ConnectionOpened() {
	defaultRecorder.ConnectionOpened()
}

// ConnectionClosed decrements connection gauges on the default recorder.
func ConnectionClosed() {
	defaultRecorder.ConnectionClosed()
}

// SetOnlineUsers updates the presence gauge on the default recorder.
func SetOnlineUsers(count int) {
	defaultRecorder.SetOnlineUsers(count)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
