package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation marks request validation failures so handlers can map them
// to a 400 response.
var ErrValidation = errors.New("validation failed")

// LoanStatus defines the lifecycle state of a financing contract
type LoanStatus string

const (
	LoanStatusActive  LoanStatus = "ACTIVE"
	LoanStatusClosed  LoanStatus = "CLOSED"
	LoanStatusOverdue LoanStatus = "OVERDUE"
)

// Loan represents property financing issued to a buyer. Principal is the
// list price minus the down payment.
type Loan struct {
	ID            int64      `json:"id"`
	PropertyID    int64      `json:"property_id"`
	UserID        int64      `json:"user_id"`
	Reference     string     `json:"reference"`
	Principal     float64    `json:"principal"`
	AnnualRate    float64    `json:"annual_rate"`
	TermMonths    int        `json:"term_months"`
	Frequency     string     `json:"frequency"`
	StartDate     time.Time  `json:"start_date"`
	PeriodPayment float64    `json:"period_payment"`
	Status        LoanStatus `json:"status"`
	HMAC          string     `json:"hmac"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// LoanRequest represents a financing application for a property
type LoanRequest struct {
	PropertyID  int64    `json:"property_id"`
	DownPayment float64  `json:"down_payment"`
	AnnualRate  *float64 `json:"annual_rate,omitempty"` // Quoted from the benchmark feed when omitted; 0 is a valid explicit rate
	TermMonths  int      `json:"term_months"`
	Frequency   string   `json:"frequency"`
	StartDate   string   `json:"start_date,omitempty"` // YYYY-MM-DD, defaults to today
}

// Validate checks the financing application before any schedule is generated
func (r *LoanRequest) Validate() error {
	if r.PropertyID <= 0 {
		return fmt.Errorf("%w: property_id is required", ErrValidation)
	}
	if r.DownPayment < 0 {
		return fmt.Errorf("%w: down payment cannot be negative", ErrValidation)
	}
	if r.TermMonths < 1 || r.TermMonths > 480 {
		return fmt.Errorf("%w: term must be between 1 and 480 months", ErrValidation)
	}
	if r.AnnualRate != nil && *r.AnnualRate < 0 {
		return fmt.Errorf("%w: annual rate cannot be negative", ErrValidation)
	}
	if r.StartDate != "" {
		if _, err := time.Parse("2006-01-02", r.StartDate); err != nil {
			return fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrValidation)
		}
	}
	return nil
}
