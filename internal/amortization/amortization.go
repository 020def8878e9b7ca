// Package amortization generates fixed-payment repayment schedules for
// property financing. It is pure arithmetic over the loan terms: no I/O,
// no logging, no shared state.
package amortization

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned when loan terms cannot describe a valid schedule.
var ErrInvalidInput = errors.New("invalid loan terms")

// Frequency determines how often payments fall due.
type Frequency string

const (
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

var periodsPerYear = map[Frequency]int{
	Weekly:    52,
	Biweekly:  26,
	Monthly:   12,
	Quarterly: 4,
}

// PeriodsPerYear returns the number of payment periods in a year for the frequency.
func (f Frequency) PeriodsPerYear() (int, error) {
	ppy, ok := periodsPerYear[f]
	if !ok {
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvalidInput, string(f))
	}
	return ppy, nil
}

// Terms describes a fixed-rate amortizing loan.
type Terms struct {
	Principal         float64
	AnnualRatePercent float64
	TermMonths        int
	Frequency         Frequency
	StartDate         time.Time
}

// Payment is one row of the repayment schedule. Monetary fields are rounded
// to two decimal places.
type Payment struct {
	Number           int       `json:"number"`
	DueDate          time.Time `json:"due_date"`
	Total            float64   `json:"total"`
	Principal        float64   `json:"principal"`
	Interest         float64   `json:"interest"`
	RemainingBalance float64   `json:"remaining_balance"`
}

// TotalPeriods converts a term expressed in months into the period count of
// the given frequency, rounding to the nearest whole period.
func TotalPeriods(termMonths int, f Frequency) (int, error) {
	ppy, err := f.PeriodsPerYear()
	if err != nil {
		return 0, err
	}
	if termMonths <= 0 {
		return 0, fmt.Errorf("%w: term must be positive, got %d months", ErrInvalidInput, termMonths)
	}
	return int(math.Round(float64(termMonths) * float64(ppy) / 12.0)), nil
}

// GenerateSchedule produces the full repayment schedule for the given terms.
// The running balance is kept at full precision and rounded only when a row
// is emitted, so the principal/interest split does not drift across periods.
// The last row's remaining balance may carry a sub-cent rounding residue.
func GenerateSchedule(terms Terms) ([]Payment, error) {
	if terms.Principal <= 0 {
		return nil, fmt.Errorf("%w: principal must be positive, got %.2f", ErrInvalidInput, terms.Principal)
	}
	if terms.AnnualRatePercent < 0 {
		return nil, fmt.Errorf("%w: rate cannot be negative, got %.2f", ErrInvalidInput, terms.AnnualRatePercent)
	}
	n, err := TotalPeriods(terms.TermMonths, terms.Frequency)
	if err != nil {
		return nil, err
	}
	ppy, err := terms.Frequency.PeriodsPerYear()
	if err != nil {
		return nil, err
	}

	principal := decimal.NewFromFloat(terms.Principal)
	periodRate := decimal.NewFromFloat(terms.AnnualRatePercent).
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(ppy)))

	var payment decimal.Decimal
	if periodRate.IsZero() {
		// Straight-line repayment; the annuity formula would divide by zero.
		payment = principal.Div(decimal.NewFromInt(int64(n)))
	} else {
		one := decimal.NewFromInt(1)
		compound := one.Add(periodRate).Pow(decimal.NewFromInt(int64(n)))
		payment = principal.Mul(periodRate).Mul(compound).Div(compound.Sub(one))
	}

	schedule := make([]Payment, 0, n)
	balance := principal
	for i := 0; i < n; i++ {
		interest := balance.Mul(periodRate)
		principalPart := payment.Sub(interest)
		balance = balance.Sub(principalPart)
		schedule = append(schedule, Payment{
			Number:           i + 1,
			DueDate:          advance(terms.StartDate, i, terms.Frequency),
			Total:            round2(payment),
			Principal:        round2(principalPart),
			Interest:         round2(interest),
			RemainingBalance: round2(balance),
		})
	}
	return schedule, nil
}

// advance moves the start date forward by n periods. Monthly and quarterly
// schedules use calendar-month arithmetic, so a month-end start date can land
// on a different day of month; weekly and biweekly use fixed day counts.
func advance(start time.Time, n int, f Frequency) time.Time {
	switch f {
	case Weekly:
		return start.AddDate(0, 0, 7*n)
	case Biweekly:
		return start.AddDate(0, 0, 14*n)
	case Quarterly:
		return start.AddDate(0, 3*n, 0)
	default:
		return start.AddDate(0, n, 0)
	}
}

func round2(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
