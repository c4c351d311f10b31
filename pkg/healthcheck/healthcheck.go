// Package healthcheck runs named health checks and aggregates their results.
package healthcheck

import (
	"context"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is functioning normally
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is functioning but with issues
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning properly
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the health status cannot be determined
	StatusUnknown Status = "unknown"
)

// Result is the outcome of one check.
type Result struct {
	Component string                 `json:"component"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Healthy builds a healthy result.
func Healthy(message string) *Result {
	return &Result{Status: StatusHealthy, Message: message}
}

// Degraded builds a degraded result.
func Degraded(message string) *Result {
	return &Result{Status: StatusDegraded, Message: message}
}

// Unhealthy builds an unhealthy result from err.
func Unhealthy(err error) *Result {
	r := &Result{Status: StatusUnhealthy}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// WithDetail attaches a detail and returns r.
func (r *Result) WithDetail(key string, value interface{}) *Result {
	if r.Details == nil {
		r.Details = make(map[string]interface{})
	}
	r.Details[key] = value
	return r
}

// Checker checks one component.
type Checker interface {
	Check(ctx context.Context) *Result
	Name() string
}

type namedChecker struct {
	name string
	fn   func(ctx context.Context) *Result
}

func (c namedChecker) Name() string { return c.name }

func (c namedChecker) Check(ctx context.Context) *Result { return c.fn(ctx) }

// Named adapts fn into a Checker called name.
func Named(name string, fn func(ctx context.Context) *Result) Checker {
	return namedChecker{name: name, fn: fn}
}

// AggregatedResult contains the results of every registered check.
type AggregatedResult struct {
	OverallStatus Status             `json:"status"`
	Components    map[string]*Result `json:"components"`
	Timestamp     time.Time          `json:"timestamp"`
}

// IsHealthy returns true if the overall status is healthy.
func (ar *AggregatedResult) IsHealthy() bool {
	return ar.OverallStatus == StatusHealthy
}

// DetermineOverallStatus folds component results: any unhealthy component
// makes the whole unhealthy, any degraded or unknown one degrades it, and no
// components at all is unknown.
func DetermineOverallStatus(results map[string]*Result) Status {
	if len(results) == 0 {
		return StatusUnknown
	}

	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusUnknown:
			overall = StatusDegraded
		}
	}
	return overall
}
