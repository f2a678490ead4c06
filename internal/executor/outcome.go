package executor

import "alpha_executor/internal/models"

// Outcome is the terminal state of one Execute call.
type Outcome int

const (
	OutcomeFilled Outcome = iota + 1
	OutcomePending
	OutcomeFailed
	OutcomeSkipped
	OutcomeRiskLimitHit
	OutcomeDisabled
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "FILLED"
	case OutcomePending:
		return "PENDING"
	case OutcomeFailed:
		return "FAILED"
	case OutcomeSkipped:
		return "SKIPPED"
	case OutcomeRiskLimitHit:
		return "RISK_LIMIT_HIT"
	case OutcomeDisabled:
		return "DISABLED"
	case OutcomeError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ResultStatus maps the outcome onto the status reported to callers.
func (o Outcome) ResultStatus() string {
	switch o {
	case OutcomeFilled:
		return models.ResultSuccess
	case OutcomePending:
		return models.ResultPending
	case OutcomeSkipped, OutcomeDisabled:
		return models.ResultSkipped
	case OutcomeRiskLimitHit:
		return models.ResultRiskLimit
	}
	return models.ResultError
}
