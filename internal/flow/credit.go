package flow

// CreditController computes and batches AMQP credit top-ups. It tracks
// nextCreditToFlow, the accumulator of credit owed to the peer since the last
// flush, and flushes (returns a non-zero flow amount) once the accumulator
// reaches min(prefetchTarget, 100) — batched so the link doesn't chatter a
// flow frame per message. All mutation happens on the reactor goroutine;
// set_prefetch applies its delta via a reactor-dispatched job rather than
// touching the accumulator directly from a caller goroutine, which is
// exactly how callers of this type must use it.
type CreditController struct {
	prefetchTarget int
	nextCreditToFlow int
}

// NewCreditController starts with the given initial prefetch target and a
// zeroed accumulator.
func NewCreditController(prefetchTarget int) *CreditController {
	return &CreditController{prefetchTarget: prefetchTarget}
}

func (c *CreditController) threshold() int {
	if c.prefetchTarget < 100 {
		return c.prefetchTarget
	}
	return 100
}

// NextCreditToFlow returns the current accumulator value, for diagnostics and
// metrics.
func (c *CreditController) NextCreditToFlow() int {
	return c.nextCreditToFlow
}

// PrefetchTarget returns the controller's current notion of the target.
func (c *CreditController) PrefetchTarget() int {
	return c.prefetchTarget
}

// OnMessagePolled records that one message left the prefetch buffer for a
// caller. It returns the credit amount to flow and whether a flush is due.
func (c *CreditController) OnMessagePolled() (flowAmount int, shouldFlush bool) {
	c.nextCreditToFlow++
	return c.maybeFlush()
}

// OnOpenComplete resets the accumulator and returns the initial top-up needed
// to bring outstanding credit up to prefetchTarget given the current prefetch
// buffer size (messages already buffered don't need new credit issued for
// them).
func (c *CreditController) OnOpenComplete(prefetchBufferSize int) int {
	c.nextCreditToFlow = 0
	initial := c.prefetchTarget - prefetchBufferSize
	if initial < 0 {
		initial = 0
	}
	return initial
}

// OnPrefetchTargetChanged applies a signed delta to the accumulator. Negative
// deltas are allowed — they only suppress future top-ups, they never drive
// issued AMQP credit below zero, which is why the accumulator itself is
// permitted to go negative here but a flush is never requested for a
// negative or zero accumulator.
func (c *CreditController) OnPrefetchTargetChanged(newTarget int) (flowAmount int, shouldFlush bool) {
	delta := newTarget - c.prefetchTarget
	c.prefetchTarget = newTarget
	c.nextCreditToFlow += delta
	return c.maybeFlush()
}

func (c *CreditController) maybeFlush() (int, bool) {
	if c.nextCreditToFlow >= c.threshold() && c.nextCreditToFlow > 0 {
		amount := c.nextCreditToFlow
		c.nextCreditToFlow = 0
		return amount, true
	}
	return 0, false
}
