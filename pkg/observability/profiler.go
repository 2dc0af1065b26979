package observability

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// QueryStats aggregates statements of one kind
type QueryStats struct {
	Kind      string        `json:"kind"`
	Count     int64         `json:"count"`
	Errors    int64         `json:"errors"`
	Total     time.Duration `json:"total_ns"`
	Max       time.Duration `json:"max_ns"`
	SlowCount int64         `json:"slow_count"`
}

// Mean returns the average duration
func (s QueryStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// QueryProfiler records statement timings. Aggregates are append-only
// and guarded by a mutex.
type QueryProfiler struct {
	mu            sync.Mutex
	stats         map[string]*QueryStats
	slowThreshold time.Duration
	metrics       *Metrics
	logger        logrus.FieldLogger
}

// NewQueryProfiler creates a profiler. Statements slower than slowThreshold
// are logged at warn level; zero disables slow-query logging.
func NewQueryProfiler(metrics *Metrics, logger logrus.FieldLogger, slowThreshold time.Duration) *QueryProfiler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueryProfiler{
		stats:         make(map[string]*QueryStats),
		slowThreshold: slowThreshold,
		metrics:       metrics,
		logger:        logger,
	}
}

// AfterQuery implements storage.QueryHook
func (p *QueryProfiler) AfterQuery(ctx context.Context, query string, duration time.Duration, err error) {
	kind := StatementKind(query)
	slow := p.slowThreshold > 0 && duration >= p.slowThreshold

	p.mu.Lock()
	s, ok := p.stats[kind]
	if !ok {
		s = &QueryStats{Kind: kind}
		p.stats[kind] = s
	}
	s.Count++
	s.Total += duration
	if duration > s.Max {
		s.Max = duration
	}
	if err != nil {
		s.Errors++
	}
	if slow {
		s.SlowCount++
	}
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.DBQueryDuration.WithLabelValues(kind).Observe(duration.Seconds())
		if err != nil {
			p.metrics.DBQueryErrors.WithLabelValues(kind).Inc()
		}
	}

	if slow {
		FromContext(ctx).WithFields(logrus.Fields{
			"kind":        kind,
			"duration_ms": duration.Milliseconds(),
		}).Warn("slow query")
	}
}

// Snapshot returns a copy of the aggregates ordered by total time
func (p *QueryProfiler) Snapshot() []QueryStats {
	p.mu.Lock()
	out := make([]QueryStats, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, *s)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total == out[j].Total {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Total > out[j].Total
	})
	return out
}

// StatementKind classifies a statement by its leading keyword and, for
// DML, the target table (e.g. "select users", "insert audit_logs").
func StatementKind(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	if len(fields) == 0 {
		return "unknown"
	}
	verb := fields[0]
	var table string
	switch verb {
	case "select", "delete":
		table = wordAfter(fields, "from")
	case "insert":
		table = wordAfter(fields, "into")
	case "update":
		if len(fields) > 1 {
			table = fields[1]
		}
	}
	table = strings.Trim(table, `"(`)
	if table == "" {
		return verb
	}
	return verb + " " + table
}

func wordAfter(fields []string, keyword string) string {
	for i, f := range fields {
		if f == keyword && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
