// internal/orchestrator/types.go
package orchestrator

import (
	"time"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition can happen
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Failure reasons
const (
	ReasonCancelled   = "cancelled"
	ReasonAllFailed   = "all addresses failed"
	ReasonNoSelectors = "no selectors available"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrShuttingDown   = errors.New("orchestrator is shutting down")
	errNoSelectors    = errors.New(ReasonNoSelectors)
	errRecordLimitHit = errors.New("record limit reached")
)

// TaskConfig describes what a task scrapes and how
type TaskConfig struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Targets []string `yaml:"targets" json:"targets"`
	// Intent is a free-form description handed to the inference backend.
	Intent    string                `yaml:"intent,omitempty" json:"intent,omitempty"`
	Container string                `yaml:"container,omitempty" json:"container,omitempty"`
	Fields    []scraper.FieldConfig `yaml:"fields,omitempty" json:"fields,omitempty"`

	// MaxPages per address, following NextSelector; 0 means 1.
	MaxPages     int    `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	NextSelector string `yaml:"next_selector,omitempty" json:"next_selector,omitempty"`
	// MaxRecords caps the whole task; 0 means no cap.
	MaxRecords  int           `yaml:"max_records,omitempty" json:"max_records,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
	PageTimeout time.Duration `yaml:"page_timeout,omitempty" json:"page_timeout,omitempty"`
	UserAgent   string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`

	UseProxy bool `yaml:"use_proxy,omitempty" json:"use_proxy,omitempty"`
	Sticky   bool `yaml:"sticky,omitempty" json:"sticky,omitempty"`
	// GroupID names the affinity group; sticky tasks without one use the task id.
	GroupID string              `yaml:"group_id,omitempty" json:"group_id,omitempty"`
	Geo     proxy.GeoConstraint `yaml:"geo,omitempty" json:"geo,omitempty"`
}

func (c TaskConfig) pages() int {
	if c.MaxPages <= 0 {
		return 1
	}
	return c.MaxPages
}

// Progress counters of a task
type Progress struct {
	CurrentPage      int `json:"current_page"`
	TotalPages       int `json:"total_pages"`
	AddressesDone    int `json:"addresses_done"`
	AddressesTotal   int `json:"addresses_total"`
	RecordsExtracted int `json:"records_extracted"`
}

// AddressError is one per-address failure absorbed into the task
type AddressError struct {
	Address  string    `json:"address"`
	Stage    string    `json:"stage"`
	EgressID string    `json:"egress_id,omitempty"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Task is a snapshot of a scraping task
type Task struct {
	ID         string                `json:"id"`
	Config     TaskConfig            `json:"config"`
	Status     Status                `json:"status"`
	Progress   Progress              `json:"progress"`
	Records    []scraper.Record      `json:"records,omitempty"`
	Errors     []AddressError        `json:"errors,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Quality    *scraper.QualityScore `json:"quality,omitempty"`
	Selectors  []scraper.FieldConfig `json:"selectors,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  time.Time             `json:"started_at,omitempty"`
	FinishedAt time.Time             `json:"finished_at,omitempty"`
}

func (t Task) clone() Task {
	cp := t
	cp.Config.Targets = append([]string(nil), t.Config.Targets...)
	cp.Config.Fields = append([]scraper.FieldConfig(nil), t.Config.Fields...)
	cp.Records = append([]scraper.Record(nil), t.Records...)
	cp.Errors = append([]AddressError(nil), t.Errors...)
	cp.Selectors = append([]scraper.FieldConfig(nil), t.Selectors...)
	if t.Quality != nil {
		q := *t.Quality
		cp.Quality = &q
	}
	return cp
}

// Summary is the list view of a task, without records
type Summary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Status     Status    `json:"status"`
	Progress   Progress  `json:"progress"`
	ErrorCount int       `json:"error_count"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Summary returns the list view of t
func (t Task) Summary() Summary {
	return Summary{
		ID:         t.ID,
		Name:       t.Config.Name,
		Status:     t.Status,
		Progress:   t.Progress,
		ErrorCount: len(t.Errors),
		Reason:     t.Reason,
		CreatedAt:  t.CreatedAt,
		FinishedAt: t.FinishedAt,
	}
}

// PreviewResult is the outcome of a single-address dry run
type PreviewResult struct {
	Address         string                `json:"address"`
	EgressID        string                `json:"egress_id,omitempty"`
	Container       string                `json:"container,omitempty"`
	Selectors       []scraper.FieldConfig `json:"selectors"`
	Records         []scraper.Record      `json:"records"`
	NextURL         string                `json:"next_url,omitempty"`
	AntiBotMeasures []string              `json:"anti_bot_measures,omitempty"`
	Quality         scraper.QualityScore  `json:"quality"`
	Duration        time.Duration         `json:"duration"`
}
