package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics. CallerID 0 covers all callers.
type CallsSummaryRequest struct {
	Range    TimeRange `json:"range"`
	CallerID int64     `json:"caller_id,omitempty"`
}

type CallsSummary struct {
	Range    TimeRange `json:"range"`
	CallerID int64     `json:"caller_id,omitempty"`

	TotalCalls int `json:"total_calls"`
	OpenCalls  int `json:"open_calls"`
	EndedCalls int `json:"ended_calls"`

	// ByOutcome counts ended attempts per recorded outcome.
	ByOutcome map[string]int `json:"by_outcome"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`
}

// ConversionMetricsRequest captures simple conversion metrics for a caller or the whole floor.
type ConversionMetricsRequest struct {
	Range    TimeRange `json:"range"`
	CallerID int64     `json:"caller_id,omitempty"`
}

type ConversionMetrics struct {
	Range    TimeRange `json:"range"`
	CallerID int64     `json:"caller_id,omitempty"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`
	Conversions    int `json:"conversions"`

	ConnectionRate float64 `json:"connection_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}
