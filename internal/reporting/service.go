package reporting

import (
	"context"
	"time"

	"callcenter/internal/apperr"
	"callcenter/internal/calls"
	"callcenter/internal/prospects"
)

const codeInvalidRange = "invalid_range"

// maxRange bounds a single report query.
const maxRange = 366 * 24 * time.Hour

// CallSource lists call attempts started in [from, to). calls.Repository satisfies it.
type CallSource interface {
	ListCallAttemptsBetween(ctx context.Context, from, to time.Time, callerID int64) ([]calls.CallAttempt, error)
}

// ConversionSource counts status transitions in [from, to). prospects.Repository satisfies it.
type ConversionSource interface {
	CountStatusChanges(ctx context.Context, status prospects.Status, from, to time.Time, changedBy int64) (int, error)
}

type Service struct {
	calls       CallSource
	conversions ConversionSource
}

// NewService builds a reporting Service. conversions may be nil, in which case
// ConversionMetrics reports zero conversions.
func NewService(callSrc CallSource, conversions ConversionSource) *Service {
	return &Service{calls: callSrc, conversions: conversions}
}

func validateRange(r TimeRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return apperr.InvalidArgument(codeInvalidRange, "from and to are required and to must be after from")
	}
	if r.To.Sub(r.From) > maxRange {
		return apperr.InvalidArgument(codeInvalidRange, "range must not exceed 366 days")
	}
	return nil
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if err := validateRange(req.Range); err != nil {
		return CallsSummary{}, err
	}

	rows, err := s.calls.ListCallAttemptsBetween(ctx, req.Range.From, req.Range.To, req.CallerID)
	if err != nil {
		return CallsSummary{}, apperr.Transient("list call attempts", err)
	}

	out := CallsSummary{Range: req.Range, CallerID: req.CallerID, ByOutcome: map[string]int{}}
	for _, a := range rows {
		out.TotalCalls++
		if a.State.IsOpen() {
			out.OpenCalls++
			continue
		}
		out.EndedCalls++
		out.ByOutcome[a.Outcome]++
		out.TotalDurationSeconds += a.DurationSeconds
		if a.RecordingRef != "" {
			out.RecordedCalls++
		}
	}
	if out.EndedCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.EndedCalls
	}
	return out, nil
}

func (s *Service) ConversionMetrics(ctx context.Context, req ConversionMetricsRequest) (ConversionMetrics, error) {
	if err := validateRange(req.Range); err != nil {
		return ConversionMetrics{}, err
	}

	rows, err := s.calls.ListCallAttemptsBetween(ctx, req.Range.From, req.Range.To, req.CallerID)
	if err != nil {
		return ConversionMetrics{}, apperr.Transient("list call attempts", err)
	}

	out := ConversionMetrics{Range: req.Range, CallerID: req.CallerID}
	out.CallsAttempted = len(rows)
	for _, a := range rows {
		if a.Outcome == calls.OutcomeCompleted {
			out.CallsConnected++
		}
	}
	if s.conversions != nil {
		n, err := s.conversions.CountStatusChanges(ctx, prospects.StatusConverted, req.Range.From, req.Range.To, req.CallerID)
		if err != nil {
			return ConversionMetrics{}, apperr.Transient("count conversions", err)
		}
		out.Conversions = n
	}

	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
		out.ConversionRate = float64(out.Conversions) / float64(out.CallsAttempted)
	}
	return out, nil
}
