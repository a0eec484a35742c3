package sendresult

import "sendwatch/go-backend/pkg/models"

// Outcome is the single result an Observer reports.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeGeneric
	OutcomeCancelled
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeGeneric:
		return "generic"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeError:
		return "error"
	default:
		return "none"
	}
}

// Flags returns the (success, cancelled, error) triple handed to the sink.
// Generic maps to all false.
func (o Outcome) Flags() (success, cancelled, failed bool) {
	switch o {
	case OutcomeSuccess:
		return true, false, false
	case OutcomeCancelled:
		return false, true, false
	case OutcomeError:
		return false, false, true
	default:
		return false, false, false
	}
}

func (o Outcome) Result() models.SendResult {
	success, cancelled, failed := o.Flags()
	return models.SendResult{Success: success, Cancelled: cancelled, Error: failed}
}

// OutcomeFromFlags is the inverse of Flags for sink implementations that only
// receive the triple.
func OutcomeFromFlags(success, cancelled, failed bool) Outcome {
	switch {
	case success:
		return OutcomeSuccess
	case cancelled:
		return OutcomeCancelled
	case failed:
		return OutcomeError
	default:
		return OutcomeGeneric
	}
}
