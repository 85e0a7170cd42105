package pipeline

// CreditLedger is the consumable lookup budget for one batch run. It is
// threaded through the pipeline explicitly; there is no ambient counter.
// One credit buys one successful lookup.
type CreditLedger struct {
	initial   int
	remaining int
}

// NewCreditLedger creates a ledger holding n credits.
func NewCreditLedger(n int) *CreditLedger {
	if n < 0 {
		n = 0
	}
	return &CreditLedger{initial: n, remaining: n}
}

// CanSpend reports whether at least one credit remains. The pipeline checks
// this before every lookup; it is the cooperative stopping point.
func (l *CreditLedger) CanSpend() bool {
	return l.remaining > 0
}

// Spend consumes one credit. It reports false without consuming when the
// ledger is already empty.
func (l *CreditLedger) Spend() bool {
	if l.remaining <= 0 {
		return false
	}
	l.remaining--
	return true
}

// Remaining returns the unspent credit count.
func (l *CreditLedger) Remaining() int { return l.remaining }

// Used returns how many credits the run has consumed.
func (l *CreditLedger) Used() int { return l.initial - l.remaining }
