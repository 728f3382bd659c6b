// Package compliance classifies compliance documents by expiry date and extraction confidence.
package compliance

import (
	"strings"
	"time"

	"github.com/BaSui01/grantflow/types"
)

// Status 合规文档状态
type Status string

const (
	StatusValid        Status = "valid"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
	StatusInvalid      Status = "invalid"
)

// Acceptable reports whether the document can support an application.
func (s Status) Acceptable() bool {
	return s == StatusValid || s == StatusExpiringSoon
}

// Config 合规评估阈值
type Config struct {
	// WindowDays is the inclusive upper bound of expiring_soon.
	WindowDays int `yaml:"window_days" json:"window_days" env:"WINDOW_DAYS"`
	// MinConfidence below which extracted fields are not trusted.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" env:"MIN_CONFIDENCE"`
}

// DefaultConfig returns a 30 day window and 0.90 minimum confidence.
func DefaultConfig() Config {
	return Config{WindowDays: 30, MinConfidence: 0.90}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.WindowDays < 0 {
		return types.NewValidationError("compliance window_days cannot be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return types.NewValidationError("compliance min_confidence must be within [0,1]")
	}
	return nil
}

// Evaluation is the outcome for one document. DaysRemaining is nil for invalid documents
// and negative for expired ones.
type Evaluation struct {
	Status        Status     `json:"status"`
	DaysRemaining *int       `json:"days_remaining"`
	Expiry        *time.Time `json:"expiry,omitempty"`
	Confidence    float64    `json:"confidence"`
}

// Evaluator applies a Config.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate classifies with the default thresholds.
func Evaluate(expiry *time.Time, confidence float64, now time.Time) Evaluation {
	return NewEvaluator(DefaultConfig()).Evaluate(expiry, confidence, now)
}

// Evaluate 按 UTC 日历日比较到期日与当前日期
func (e *Evaluator) Evaluate(expiry *time.Time, confidence float64, now time.Time) Evaluation {
	ev := Evaluation{Confidence: confidence}
	if expiry == nil || confidence < e.cfg.MinConfidence {
		ev.Status = StatusInvalid
		return ev
	}
	exp := *expiry
	ev.Expiry = &exp

	days := daysBetween(now, exp)
	ev.DaysRemaining = &days
	switch {
	case days < 0:
		ev.Status = StatusExpired
	case days <= e.cfg.WindowDays:
		ev.Status = StatusExpiringSoon
	default:
		ev.Status = StatusValid
	}
	return ev
}

// daysBetween counts whole calendar days from a to b in UTC.
func daysBetween(a, b time.Time) int {
	da := utcDate(a)
	db := utcDate(b)
	return int(db.Sub(da).Hours() / 24)
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExpiryFields are the extracted field names checked for an expiry date, in order.
var ExpiryFields = []string{"expiry_date", "expiration_date", "valid_until"}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"02 Jan 2006",
	"January 2, 2006",
	time.RFC3339,
}

// ParseExpiry finds and parses the expiry date among extracted fields. It returns nil when no
// field is present or none parses.
func ParseExpiry(fields map[string]string) *time.Time {
	for _, name := range ExpiryFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}
	return nil
}

// EvaluateFields parses the expiry from extracted fields and evaluates it.
func (e *Evaluator) EvaluateFields(fields map[string]string, confidence float64, now time.Time) Evaluation {
	return e.Evaluate(ParseExpiry(fields), confidence, now)
}

// EvaluateFields is EvaluateFields with the default thresholds.
func EvaluateFields(fields map[string]string, confidence float64, now time.Time) Evaluation {
	return NewEvaluator(DefaultConfig()).EvaluateFields(fields, confidence, now)
}
