package transfer

import "fmt"

// IncompleteError reports a transfer whose credit leg failed after the debit
// leg committed. When Compensated is true, a reversing income write restored
// the source balance; when false, the committed leg is orphaned and
// CompensationErr explains why the reversal also failed. Either way the
// transfer must never be presented as a success.
type IncompleteError struct {
	Correlator      string
	CommittedLegID  string
	Compensated     bool
	Err             error
	CompensationErr error
}

func (e *IncompleteError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("transfer %s incomplete: credit leg failed (debit %s reversed): %v",
			e.Correlator, e.CommittedLegID, e.Err)
	}
	return fmt.Sprintf("transfer %s incomplete: credit leg failed and compensation failed (debit %s orphaned): %v (compensation: %v)",
		e.Correlator, e.CommittedLegID, e.Err, e.CompensationErr)
}

func (e *IncompleteError) Unwrap() error { return e.Err }
