package models

import (
	"math"
	"time"
)

// PaymentStatus defines the status of a scheduled payment
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
)

// OverduePenaltyRate is the flat penalty applied to a payment that is more
// than one day overdue, as a fraction of the payment total.
const OverduePenaltyRate = 0.10

// Payment represents one persisted row of a loan's repayment schedule
type Payment struct {
	ID               int64         `json:"id"`
	LoanID           int64         `json:"loan_id"`
	Number           int           `json:"number"`
	DueDate          time.Time     `json:"due_date"`
	PrincipalAmount  float64       `json:"principal_amount"`
	InterestAmount   float64       `json:"interest_amount"`
	TotalAmount      float64       `json:"total_amount"`
	RemainingBalance float64       `json:"remaining_balance"`
	Status           PaymentStatus `json:"status"`
	Penalty          float64       `json:"penalty,omitempty"`
	ReceiptID        string        `json:"receipt_id,omitempty"`
	ReminderSent     bool          `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// MarkOverdue transitions a pending payment past its due date to OVERDUE and
// applies the penalty once it is more than one day late. An already overdue
// payment without a penalty is re-checked, so the penalty still lands when a
// sweep first saw the payment less than a day late. Returns true if the
// payment changed.
func (p *Payment) MarkOverdue(now time.Time) bool {
	if p.Status == PaymentStatusPaid || !now.After(p.DueDate) {
		return false
	}

	changed := false
	if p.Status == PaymentStatusPending {
		p.Status = PaymentStatusOverdue
		changed = true
	}

	if p.Penalty == 0 {
		daysLate := int(now.Sub(p.DueDate).Hours() / 24)
		if daysLate > 1 {
			p.Penalty = roundToTwoDecimal(p.TotalAmount * OverduePenaltyRate)
			changed = true
		}
	}
	return changed
}

// ScheduleSummary represents aggregate statistics for a repayment schedule
type ScheduleSummary struct {
	TotalPayments      int     `json:"total_payments"`
	TotalPrincipal     float64 `json:"total_principal"`
	TotalInterest      float64 `json:"total_interest"`
	TotalAmount        float64 `json:"total_amount"`
	PaidPayments       int     `json:"paid_payments"`
	PaidAmount         float64 `json:"paid_amount"`
	RemainingPayments  int     `json:"remaining_payments"`
	RemainingAmount    float64 `json:"remaining_amount"`
	OverduePayments    int     `json:"overdue_payments"`
	OverdueAmount      float64 `json:"overdue_amount"`
	TotalPenalties     float64 `json:"total_penalties"`
	RemainingPrincipal float64 `json:"remaining_principal"`
}

// CalculateScheduleSummary aggregates a schedule into paid, remaining and
// overdue buckets.
func CalculateScheduleSummary(payments []*Payment) *ScheduleSummary {
	summary := &ScheduleSummary{TotalPayments: len(payments)}

	for _, p := range payments {
		summary.TotalPrincipal += p.PrincipalAmount
		summary.TotalInterest += p.InterestAmount
		summary.TotalAmount += p.TotalAmount
		summary.TotalPenalties += p.Penalty

		switch p.Status {
		case PaymentStatusPaid:
			summary.PaidPayments++
			summary.PaidAmount += p.TotalAmount
		case PaymentStatusPending:
			summary.RemainingPayments++
			summary.RemainingAmount += p.TotalAmount
			summary.RemainingPrincipal += p.PrincipalAmount
		case PaymentStatusOverdue:
			summary.OverduePayments++
			summary.OverdueAmount += p.TotalAmount
			summary.RemainingPrincipal += p.PrincipalAmount
		}
	}

	summary.TotalPrincipal = roundToTwoDecimal(summary.TotalPrincipal)
	summary.TotalInterest = roundToTwoDecimal(summary.TotalInterest)
	summary.TotalAmount = roundToTwoDecimal(summary.TotalAmount)
	summary.PaidAmount = roundToTwoDecimal(summary.PaidAmount)
	summary.RemainingAmount = roundToTwoDecimal(summary.RemainingAmount)
	summary.OverdueAmount = roundToTwoDecimal(summary.OverdueAmount)
	summary.RemainingPrincipal = roundToTwoDecimal(summary.RemainingPrincipal)
	return summary
}

func roundToTwoDecimal(value float64) float64 {
	return math.Round(value*100) / 100
}
