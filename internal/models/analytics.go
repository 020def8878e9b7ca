package models

import "time"

// PortfolioSummary aggregates a user's financing positions
type PortfolioSummary struct {
	ActiveLoans        int        `json:"active_loans"`
	TotalFinanced      float64    `json:"total_financed"`
	TotalPaid          float64    `json:"total_paid"`
	OutstandingBalance float64    `json:"outstanding_balance"`
	OverduePayments    int        `json:"overdue_payments"`
	NextPaymentDue     *time.Time `json:"next_payment_due,omitempty"`
	NextPaymentAmount  float64    `json:"next_payment_amount,omitempty"`
}
