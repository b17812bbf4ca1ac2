// Package telemetry collects request, authorization and inference metrics
// and serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/neuronova/emr/internal/platform/auth"
	"github.com/neuronova/emr/internal/platform/db"
)

var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// inferenceBuckets covers model latency, which runs well above request
// latency.
var inferenceBuckets = []float64{
	0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0,
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		out[i] = running
	}
	return out
}

// ---------------------------------------------------------------------------
// Labeled families
// ---------------------------------------------------------------------------

// labels is an ordered set of name/value pairs rendered as {a="x",b="y"}.
type labels []string

func (l labels) key() string { return strings.Join(l, "\x00") }

func (l labels) render(extra ...string) string {
	all := append(append([]string{}, l...), extra...)
	if len(all) == 0 {
		return ""
	}
	parts := make([]string, 0, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", all[i], all[i+1]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type histogramVec struct {
	boundaries []float64
	mu         sync.RWMutex
	items      map[string]*labeledHistogram
}

type labeledHistogram struct {
	labels labels
	*histogram
}

func newHistogramVec(boundaries []float64) *histogramVec {
	return &histogramVec{boundaries: boundaries, items: make(map[string]*labeledHistogram)}
}

func (v *histogramVec) with(l labels) *histogram {
	k := l.key()
	v.mu.RLock()
	h, ok := v.items[k]
	v.mu.RUnlock()
	if ok {
		return h.histogram
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok = v.items[k]; !ok {
		h = &labeledHistogram{labels: l, histogram: newHistogram(v.boundaries)}
		v.items[k] = h
	}
	return h.histogram
}

func (v *histogramVec) snapshot() []*labeledHistogram {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*labeledHistogram, 0, len(v.items))
	for _, h := range v.items {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].labels.key() < out[j].labels.key() })
	return out
}

type counterVec struct {
	mu    sync.RWMutex
	items map[string]*labeledCounter
}

type labeledCounter struct {
	labels labels
	value  int64
}

func newCounterVec() *counterVec {
	return &counterVec{items: make(map[string]*labeledCounter)}
}

func (v *counterVec) inc(l labels) {
	k := l.key()
	v.mu.RLock()
	c, ok := v.items[k]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if c, ok = v.items[k]; !ok {
			c = &labeledCounter{labels: l}
			v.items[k] = c
		}
		v.mu.Unlock()
	}
	atomic.AddInt64(&c.value, 1)
}

func (v *counterVec) get(l labels) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if c, ok := v.items[l.key()]; ok {
		return atomic.LoadInt64(&c.value)
	}
	return 0
}

func (v *counterVec) snapshot() []*labeledCounter {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]*labeledCounter, 0, len(v.items))
	for _, c := range v.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].labels.key() < out[j].labels.key() })
	return out
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics is the process-wide registry. Safe for concurrent use.
type Metrics struct {
	requests       *histogramVec
	activeRequests int64
	decisions      *counterVec
	inference      *histogramVec
	pool           *pgxpool.Pool
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:  newHistogramVec(durationBuckets),
		decisions: newCounterVec(),
		inference: newHistogramVec(inferenceBuckets),
	}
}

// WithPool reports connection pool gauges on every scrape.
func (m *Metrics) WithPool(pool *pgxpool.Pool) *Metrics {
	m.pool = pool
	return m
}

// Middleware records request duration by method, route and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.activeRequests, 1)
			defer atomic.AddInt64(&m.activeRequests, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requests.with(labels{"method", c.Request().Method, "route", route, "status_code", strconv.Itoa(status)}).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ObserveDecision implements auth.DecisionObserver.
func (m *Metrics) ObserveDecision(res auth.ResourceType, act auth.Action, d auth.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	m.decisions.inc(labels{"resource_type", string(res), "action", string(act), "outcome", outcome, "reason", string(d.Reason)})
}

// DecisionCount returns the number of recorded decisions with the given labels.
func (m *Metrics) DecisionCount(res auth.ResourceType, act auth.Action, d auth.Decision) int64 {
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	return m.decisions.get(labels{"resource_type", string(res), "action", string(act), "outcome", outcome, "reason", string(d.Reason)})
}

func (m *Metrics) observeInference(outcome string, elapsed time.Duration) {
	m.inference.with(labels{"outcome", outcome}).Observe(elapsed.Seconds())
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistograms(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", m.requests)

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

		b.WriteString("# HELP authz_decisions_total Authorization decisions by resource, action and outcome.\n")
		b.WriteString("# TYPE authz_decisions_total counter\n")
		for _, c := range m.decisions.snapshot() {
			fmt.Fprintf(&b, "authz_decisions_total%s %d\n", c.labels.render(), atomic.LoadInt64(&c.value))
		}
		b.WriteByte('\n')

		writeHistograms(&b, "inference_request_duration_seconds",
			"Duration of classifier calls in seconds.", m.inference)

		if m.pool != nil {
			stat := db.StatsOf(m.pool)
			for _, g := range []struct {
				name, help string
				value      int32
			}{
				{"db_pool_total_connections", "Open database connections.", stat.Total},
				{"db_pool_idle_connections", "Idle database connections.", stat.Idle},
				{"db_pool_acquired_connections", "Database connections in use.", stat.Acquired},
			} {
				fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", g.name, g.help, g.name, g.name, g.value)
			}
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func writeHistograms(b *strings.Builder, name, help string, vec *histogramVec) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, h := range vec.snapshot() {
		cum := h.cumulative()
		for i, boundary := range vec.boundaries {
			fmt.Fprintf(b, "%s_bucket%s %d\n", name, h.labels.render("le", strconv.FormatFloat(boundary, 'g', -1, 64)), cum[i])
		}
		fmt.Fprintf(b, "%s_bucket%s %d\n", name, h.labels.render("le", "+Inf"), h.Count())
		fmt.Fprintf(b, "%s_sum%s %g\n", name, h.labels.render(), h.Sum())
		fmt.Fprintf(b, "%s_count%s %d\n", name, h.labels.render(), h.Count())
	}
	b.WriteByte('\n')
}
