package pipeline

// Outcome is the terminal state of one row.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
)

// RowResult is what the processor reports for a row. Reason carries the audit action that
// ended the row. Redeemed is independent of Outcome: a row can redeem a code and still defer.
type RowResult struct {
	Index    int
	Outcome  Outcome
	Reason   string
	Redeemed bool
	Err      error
}

func (r RowResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

func failed(index int, err error) RowResult {
	return RowResult{Index: index, Outcome: OutcomeFailed, Reason: "row_error", Err: err}
}
