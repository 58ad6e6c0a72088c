package transactions

import (
	"context"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange reads YYYY-MM-DD bounds. The range only applies when both
// bounds are given; otherwise it returns nil and the report is unfiltered.
func ParseDateRange(start, end string) (*DateRange, error) {
	if start == "" || end == "" {
		return nil, nil
	}
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, ErrInvalidDate
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, ErrInvalidDate
	}
	return &DateRange{Start: s, End: e}, nil
}

// bounds converts the day range to a half-open instant range in loc.
func (r DateRange) bounds(loc *time.Location) (time.Time, time.Time) {
	from := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, loc)
	to := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return from, to
}

// ListLoans returns the account's LOAN records, pending and approved.
// Paid loans carry the LOAN_PAID type and are not included.
func (p *Processor) ListLoans(ctx context.Context, accountID string) ([]*Record, error) {
	records, err := p.store.ListRecords(ctx, Filter{AccountID: accountID, Types: []Type{TypeLoan}})
	if err != nil {
		return nil, &PersistenceError{Op: "list loans", Err: err}
	}
	return records, nil
}

// ListTransactions returns the account's records in insertion order,
// optionally limited to the days in dr.
func (p *Processor) ListTransactions(ctx context.Context, accountID string, dr *DateRange) ([]*Record, error) {
	filter := Filter{AccountID: accountID}
	if dr != nil {
		if dr.End.Before(dr.Start) {
			return []*Record{}, nil
		}
		filter.From, filter.To = dr.bounds(p.opts.Location)
	}

	records, err := p.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, &PersistenceError{Op: "list transactions", Err: err}
	}
	return records, nil
}
