package gate

import (
	"sync"
	"time"

	"plangate/pkg/models"
)

// recentCorrections is how many history records the statistics report carries.
const recentCorrections = 10

// Statistics are the process-wide validation counters
type Statistics struct {
	TotalValidations  int64 `json:"total_validations"`
	PassedValidations int64 `json:"passed_validations"`
	FailedValidations int64 `json:"failed_validations"`
	AutoCorrections   int64 `json:"auto_corrections"`
	CachedValidations int64 `json:"cached_validations"`
}

// ServiceInfo describes the gate service
type ServiceInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// StatisticsReport is a read-only snapshot of the gate's state
type StatisticsReport struct {
	Service           ServiceInfo                `json:"service"`
	Statistics        Statistics                 `json:"statistics"`
	SuccessRate       float64                    `json:"success_rate"`
	ErrorPatterns     map[models.FindingKind]int `json:"error_patterns"`
	RecentCorrections []models.CorrectionRecord  `json:"recent_corrections"`
	CacheHitRate      float64                    `json:"cache_hit_rate"`
	CacheSize         int                        `json:"cache_size"`
	AutoCorrection    bool                       `json:"auto_correction_enabled"`
}

// Health is the gate's health summary
type Health struct {
	Status            string    `json:"status"`
	Service           string    `json:"service"`
	Version           string    `json:"version"`
	UptimeValidations int64     `json:"uptime_validations"`
	SuccessRate       string    `json:"success_rate"`
	Timestamp         time.Time `json:"timestamp"`
}

// counters guards the statistics and the error-pattern histogram.
type counters struct {
	mu       sync.Mutex
	stats    Statistics
	patterns map[models.FindingKind]int
}

func newCounters() *counters {
	return &counters{patterns: make(map[models.FindingKind]int)}
}

func (c *counters) validationStarted() {
	c.mu.Lock()
	c.stats.TotalValidations++
	c.mu.Unlock()
}

func (c *counters) cacheHit() {
	c.mu.Lock()
	c.stats.CachedValidations++
	c.mu.Unlock()
}

func (c *counters) finished(valid bool, corrections int, patterns []models.FindingKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if valid {
		c.stats.PassedValidations++
	} else {
		c.stats.FailedValidations++
	}
	c.stats.AutoCorrections += int64(corrections)
	for _, k := range patterns {
		c.patterns[k]++
	}
}

func (c *counters) snapshot() (Statistics, map[models.FindingKind]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	patterns := make(map[models.FindingKind]int, len(c.patterns))
	for k, v := range c.patterns {
		patterns[k] = v
	}
	return c.stats, patterns
}

// history is the append-only correction log. It is never pruned.
type history struct {
	mu      sync.Mutex
	records []models.CorrectionRecord
}

func (h *history) append(records ...models.CorrectionRecord) {
	h.mu.Lock()
	h.records = append(h.records, records...)
	h.mu.Unlock()
}

// last returns a copy of the newest n records, oldest first.
func (h *history) last(n int) []models.CorrectionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.records) - n
	if start < 0 {
		start = 0
	}
	return append([]models.CorrectionRecord{}, h.records[start:]...)
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func ratio(part, total int64) float64 {
	if total < 1 {
		total = 1
	}
	return float64(part) / float64(total)
}
