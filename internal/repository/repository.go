package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brickvest/estate-finance/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface consumed by the service layer.
type Store interface {
	CreateUser(user *models.User) error
	FindUserByEmail(email string) (*models.User, error)
	FindUserByID(id int64) (*models.User, error)

	CreateProperty(property *models.Property) error
	ListProperties() ([]*models.Property, error)
	FindPropertyByID(id int64) (*models.Property, error)

	CreateLoanWithSchedule(loan *models.Loan, payments []*models.Payment) error
	FindLoanByID(id int64) (*models.Loan, error)
	ListLoansByUser(userID int64) ([]*models.Loan, error)
	UpdateLoanStatus(id int64, status models.LoanStatus) error

	ListPaymentsByLoan(loanID int64) ([]*models.Payment, error)
	FindPaymentByID(id int64) (*models.Payment, error)
	MarkPaymentPaid(id int64, receiptID string) error
	ListPaymentsForSweep(deadline time.Time) ([]*models.Payment, error)
	MarkPaymentOverdue(id int64, penalty float64) error
	MarkReminderSent(id int64) error
}

// Repository provides Postgres-backed persistence
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(user *models.User) error {
	query := `
		INSERT INTO estate.users (username, email, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRow(query, user.Username, user.Email, user.Role, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, role, password_hash, created_at
		FROM estate.users
		WHERE email = $1`
	err := r.db.QueryRow(query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, role, password_hash, created_at
		FROM estate.users
		WHERE id = $1`
	err := r.db.QueryRow(query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateProperty creates a new listing
func (r *Repository) CreateProperty(property *models.Property) error {
	query := `
		INSERT INTO estate.properties (owner_id, title, address, list_price, token_price, total_tokens, payout_account, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query,
		property.OwnerID, property.Title, property.Address,
		property.ListPrice, property.TokenPrice, property.TotalTokens, property.PayoutAccount).
		Scan(&property.ID, &property.CreatedAt, &property.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

// ListProperties returns all listings
func (r *Repository) ListProperties() ([]*models.Property, error) {
	query := `
		SELECT id, owner_id, title, address, list_price, token_price, total_tokens, payout_account, created_at, updated_at
		FROM estate.properties
		ORDER BY id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	for rows.Next() {
		p := &models.Property{}
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Address,
			&p.ListPrice, &p.TokenPrice, &p.TotalTokens, &p.PayoutAccount,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

// FindPropertyByID retrieves a listing by id
func (r *Repository) FindPropertyByID(id int64) (*models.Property, error) {
	p := &models.Property{}
	query := `
		SELECT id, owner_id, title, address, list_price, token_price, total_tokens, payout_account, created_at, updated_at
		FROM estate.properties
		WHERE id = $1`
	err := r.db.QueryRow(query, id).
		Scan(&p.ID, &p.OwnerID, &p.Title, &p.Address,
			&p.ListPrice, &p.TokenPrice, &p.TotalTokens, &p.PayoutAccount,
			&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("property %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find property: %w", err)
	}
	return p, nil
}

// CreateLoanWithSchedule persists a financing contract and its full
// repayment schedule in one transaction.
func (r *Repository) CreateLoanWithSchedule(loan *models.Loan, payments []*models.Payment) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	loanQuery := `
		INSERT INTO estate.loans (property_id, user_id, reference, principal, annual_rate, term_months, frequency, start_date, period_payment, status, hmac, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRow(loanQuery,
		loan.PropertyID, loan.UserID, loan.Reference, loan.Principal, loan.AnnualRate,
		loan.TermMonths, loan.Frequency, loan.StartDate, loan.PeriodPayment,
		loan.Status, loan.HMAC).
		Scan(&loan.ID, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO estate.payments (loan_id, number, due_date, principal_amount, interest_amount, total_amount, remaining_balance, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("failed to prepare payment insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range payments {
		p.LoanID = loan.ID
		if err := stmt.QueryRow(loan.ID, p.Number, p.DueDate,
			p.PrincipalAmount, p.InterestAmount, p.TotalAmount,
			p.RemainingBalance, p.Status).Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to insert payment %d: %w", p.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit loan: %w", err)
	}
	return nil
}

// FindLoanByID retrieves a financing contract by id
func (r *Repository) FindLoanByID(id int64) (*models.Loan, error) {
	loan := &models.Loan{}
	query := `
		SELECT id, property_id, user_id, reference, principal, annual_rate, term_months, frequency, start_date, period_payment, status, hmac, created_at, updated_at
		FROM estate.loans
		WHERE id = $1`
	err := r.db.QueryRow(query, id).Scan(
		&loan.ID, &loan.PropertyID, &loan.UserID, &loan.Reference,
		&loan.Principal, &loan.AnnualRate, &loan.TermMonths, &loan.Frequency,
		&loan.StartDate, &loan.PeriodPayment, &loan.Status, &loan.HMAC,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return loan, nil
}

// ListLoansByUser returns all financing contracts for a borrower
func (r *Repository) ListLoansByUser(userID int64) ([]*models.Loan, error) {
	query := `
		SELECT id, property_id, user_id, reference, principal, annual_rate, term_months, frequency, start_date, period_payment, status, hmac, created_at, updated_at
		FROM estate.loans
		WHERE user_id = $1
		ORDER BY id`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan := &models.Loan{}
		if err := rows.Scan(&loan.ID, &loan.PropertyID, &loan.UserID, &loan.Reference,
			&loan.Principal, &loan.AnnualRate, &loan.TermMonths, &loan.Frequency,
			&loan.StartDate, &loan.PeriodPayment, &loan.Status, &loan.HMAC,
			&loan.CreatedAt, &loan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

// UpdateLoanStatus moves a financing contract through its lifecycle
func (r *Repository) UpdateLoanStatus(id int64, status models.LoanStatus) error {
	query := `
		UPDATE estate.loans
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`
	result, err := r.db.Exec(query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	return nil
}

const paymentColumns = `id, loan_id, number, due_date, principal_amount, interest_amount, total_amount, remaining_balance, status, penalty, COALESCE(receipt_id, ''), reminder_sent, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(&p.ID, &p.LoanID, &p.Number, &p.DueDate,
		&p.PrincipalAmount, &p.InterestAmount, &p.TotalAmount, &p.RemainingBalance,
		&p.Status, &p.Penalty, &p.ReceiptID, &p.ReminderSent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPaymentsByLoan returns the full schedule of a loan ordered by number
func (r *Repository) ListPaymentsByLoan(loanID int64) ([]*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM estate.payments WHERE loan_id = $1 ORDER BY number`, paymentColumns)
	rows, err := r.db.Query(query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// FindPaymentByID retrieves a single schedule row
func (r *Repository) FindPaymentByID(id int64) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM estate.payments WHERE id = $1`, paymentColumns)
	p, err := scanPayment(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

// MarkPaymentPaid records a completed payment with its receipt id
func (r *Repository) MarkPaymentPaid(id int64, receiptID string) error {
	query := `
		UPDATE estate.payments
		SET status = $1, receipt_id = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`
	result, err := r.db.Exec(query, models.PaymentStatusPaid, receiptID, id)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListPaymentsForSweep returns the payments the daily sweep must look at:
// pending payments due on or before the deadline, and overdue payments whose
// penalty has not been applied yet.
func (r *Repository) ListPaymentsForSweep(deadline time.Time) ([]*models.Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM estate.payments
		WHERE (status = $1 AND due_date <= $2) OR (status = $3 AND penalty = 0)
		ORDER BY due_date`, paymentColumns)
	rows, err := r.db.Query(query, models.PaymentStatusPending, deadline, models.PaymentStatusOverdue)
	if err != nil {
		return nil, fmt.Errorf("failed to list due payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkPaymentOverdue flags a payment as overdue and records its penalty. It
// also updates an already overdue payment, so a penalty applied on a later
// sweep still lands.
func (r *Repository) MarkPaymentOverdue(id int64, penalty float64) error {
	query := `
		UPDATE estate.payments
		SET status = $1, penalty = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status <> $4`
	result, err := r.db.Exec(query, models.PaymentStatusOverdue, penalty, id, models.PaymentStatusPaid)
	if err != nil {
		return fmt.Errorf("failed to mark payment overdue: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkReminderSent records that the upcoming-payment reminder went out
func (r *Repository) MarkReminderSent(id int64) error {
	query := `
		UPDATE estate.payments
		SET reminder_sent = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	result, err := r.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	return nil
}
