package transactions

var FormatAmount = formatAmount

// HeldLocks reports how many per-account locks are currently tracked.
func (p *Processor) HeldLocks() int {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	return len(p.locks)
}
