package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/brickvest/estate-finance/internal/amortization"
	"github.com/brickvest/estate-finance/internal/cache"
	"github.com/brickvest/estate-finance/internal/config"
	"github.com/brickvest/estate-finance/internal/models"
	"github.com/brickvest/estate-finance/internal/repository"
	"github.com/brickvest/estate-finance/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrForbidden is returned when a user touches a resource they do not own.
var ErrForbidden = errors.New("forbidden")

const scheduleCacheTTL = 5 * time.Minute

// RateQuoter supplies the current benchmark financing rate in percent.
type RateQuoter interface {
	QuoteRate() (float64, error)
}

// Mailer sends borrower notifications.
type Mailer interface {
	SendPaymentReminder(to, username string, dueDate time.Time, amount, penalty float64, overdue bool) error
	SendFinancingConfirmation(to, username, reference string, principal, periodPayment float64, totalPayments int) error
}

// Service handles business logic
type Service struct {
	store  repository.Store
	cache  cache.Cache
	rates  RateQuoter
	mailer Mailer
	log    *logrus.Logger
	config *config.Config
}

// NewService initializes a new service
func NewService(store repository.Store, c cache.Cache, rates RateQuoter, mailer Mailer, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{store: store, cache: c, rates: rates, mailer: mailer, log: log, config: cfg}
}

// Register creates a new user with hashed password
func (s *Service) Register(username, email, password, role string) (*models.User, error) {
	if role == "" {
		role = models.RoleInvestor
	}
	if role != models.RoleInvestor && role != models.RoleOwner {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: string(hashedPassword),
	}

	if err := s.store.CreateUser(user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s (%s)", user.Email, user.Role)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(email, password string) (string, error) {
	user, err := s.store.FindUserByEmail(email)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", user.ID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// CreateProperty lists a property for the authenticated owner. The payout
// account is encrypted before it is stored.
func (s *Service) CreateProperty(ctx context.Context, property *models.Property) (*models.Property, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if property.Title == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if property.ListPrice <= 0 {
		return nil, fmt.Errorf("%w: list price must be positive", models.ErrValidation)
	}
	if property.TotalTokens <= 0 {
		return nil, fmt.Errorf("%w: total tokens must be positive", models.ErrValidation)
	}

	property.OwnerID = userID
	if property.PayoutAccount != "" {
		encrypted, err := utils.Encrypt(property.PayoutAccount, s.config.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payout account: %w", err)
		}
		property.PayoutAccount = encrypted
	}

	if err := s.store.CreateProperty(property); err != nil {
		return nil, err
	}

	s.log.Infof("Property listed: %d (%s) by user %d", property.ID, property.Title, userID)
	return property, nil
}

// ListProperties returns all listings
func (s *Service) ListProperties() ([]*models.Property, error) {
	return s.store.ListProperties()
}

// FinanceProperty creates a financing contract for a property and generates
// its full repayment schedule atomically.
func (s *Service) FinanceProperty(ctx context.Context, req *models.LoanRequest) (*models.Loan, []*models.Payment, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	property, err := s.store.FindPropertyByID(req.PropertyID)
	if err != nil {
		return nil, nil, err
	}

	principal := property.ListPrice - req.DownPayment
	if principal <= 0 {
		return nil, nil, fmt.Errorf("%w: down payment must be below the list price", models.ErrValidation)
	}

	var rate float64
	if req.AnnualRate != nil {
		rate = *req.AnnualRate
	} else {
		rate, err = s.rates.QuoteRate()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to quote financing rate: %w", err)
		}
	}

	startDate := time.Now().UTC().Truncate(24 * time.Hour)
	if req.StartDate != "" {
		startDate, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", models.ErrValidation)
		}
	}

	schedule, err := amortization.GenerateSchedule(amortization.Terms{
		Principal:         principal,
		AnnualRatePercent: rate,
		TermMonths:        req.TermMonths,
		Frequency:         amortization.Frequency(req.Frequency),
		StartDate:         startDate,
	})
	if err != nil {
		return nil, nil, err
	}

	reference, err := utils.GenerateReference("FIN", 10)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate reference: %w", err)
	}

	loan := &models.Loan{
		PropertyID:    property.ID,
		UserID:        userID,
		Reference:     reference,
		Principal:     principal,
		AnnualRate:    rate,
		TermMonths:    req.TermMonths,
		Frequency:     req.Frequency,
		StartDate:     startDate,
		PeriodPayment: schedule[0].Total,
		Status:        models.LoanStatusActive,
		HMAC:          utils.LoanHMAC(reference, principal, rate, req.TermMonths, s.config.HMACSecret),
	}

	payments := make([]*models.Payment, 0, len(schedule))
	for _, row := range schedule {
		payments = append(payments, &models.Payment{
			Number:           row.Number,
			DueDate:          row.DueDate,
			PrincipalAmount:  row.Principal,
			InterestAmount:   row.Interest,
			TotalAmount:      row.Total,
			RemainingBalance: row.RemainingBalance,
			Status:           models.PaymentStatusPending,
		})
	}

	if err := s.store.CreateLoanWithSchedule(loan, payments); err != nil {
		return nil, nil, err
	}

	if user, err := s.store.FindUserByID(userID); err == nil {
		if err := s.mailer.SendFinancingConfirmation(user.Email, user.Username,
			loan.Reference, loan.Principal, loan.PeriodPayment, len(payments)); err != nil {
			s.log.Warnf("Failed to send financing confirmation for loan %d: %v", loan.ID, err)
		}
	}

	s.log.Infof("Loan %s created for user %d: %.2f over %d payments", loan.Reference, userID, loan.Principal, len(payments))
	return loan, payments, nil
}

// ScheduleView combines a loan, its schedule, and aggregate statistics.
type ScheduleView struct {
	Loan     *models.Loan            `json:"loan"`
	Payments []*models.Payment       `json:"payments"`
	Summary  *models.ScheduleSummary `json:"summary"`
}

// GetSchedule returns the repayment schedule and summary for a loan owned by
// the authenticated user. Views are cached per loan.
func (s *Service) GetSchedule(ctx context.Context, loanID int64) (*ScheduleView, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	loan, err := s.store.FindLoanByID(loanID)
	if err != nil {
		return nil, err
	}
	if loan.UserID != userID {
		return nil, fmt.Errorf("loan %d: %w", loanID, ErrForbidden)
	}

	key := scheduleCacheKey(loanID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		view := &ScheduleView{}
		if err := json.Unmarshal([]byte(cached), view); err == nil {
			return view, nil
		}
		// A corrupt entry is dropped and rebuilt below.
		_ = s.cache.Delete(ctx, key)
	}

	payments, err := s.store.ListPaymentsByLoan(loanID)
	if err != nil {
		return nil, err
	}

	view := &ScheduleView{
		Loan:     loan,
		Payments: payments,
		Summary:  models.CalculateScheduleSummary(payments),
	}

	if encoded, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, key, string(encoded), scheduleCacheTTL); err != nil {
			s.log.Warnf("Failed to cache schedule for loan %d: %v", loanID, err)
		}
	}
	return view, nil
}

// RecordPayment marks a scheduled payment as paid and issues a receipt id
func (s *Service) RecordPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.store.FindPaymentByID(paymentID)
	if err != nil {
		return nil, err
	}

	loan, err := s.store.FindLoanByID(payment.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.UserID != userID {
		return nil, fmt.Errorf("payment %d: %w", paymentID, ErrForbidden)
	}

	if payment.Status == models.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: payment %d is already paid", models.ErrValidation, paymentID)
	}

	receiptID := uuid.NewString()
	if err := s.store.MarkPaymentPaid(paymentID, receiptID); err != nil {
		return nil, err
	}
	payment.Status = models.PaymentStatusPaid
	payment.ReceiptID = receiptID

	if err := s.reconcileLoanStatus(loan); err != nil {
		s.log.Warnf("Failed to reconcile status of loan %d: %v", loan.ID, err)
	}

	if err := s.cache.Delete(ctx, scheduleCacheKey(loan.ID)); err != nil {
		s.log.Warnf("Failed to invalidate schedule cache for loan %d: %v", loan.ID, err)
	}

	s.log.Infof("Payment %d on loan %s recorded, receipt %s", payment.Number, loan.Reference, receiptID)
	return payment, nil
}

// reconcileLoanStatus derives the loan status from its schedule: CLOSED once
// every payment is paid, OVERDUE while any payment is overdue, ACTIVE
// otherwise.
func (s *Service) reconcileLoanStatus(loan *models.Loan) error {
	payments, err := s.store.ListPaymentsByLoan(loan.ID)
	if err != nil {
		return err
	}

	status := models.LoanStatusClosed
	for _, p := range payments {
		if p.Status == models.PaymentStatusOverdue {
			status = models.LoanStatusOverdue
			break
		}
		if p.Status == models.PaymentStatusPending {
			status = models.LoanStatusActive
		}
	}

	if status == loan.Status {
		return nil
	}
	if err := s.store.UpdateLoanStatus(loan.ID, status); err != nil {
		return err
	}
	loan.Status = status
	s.log.Infof("Loan %s is now %s", loan.Reference, status)
	return nil
}

// Portfolio aggregates the authenticated user's financing positions
func (s *Service) Portfolio(ctx context.Context) (*models.PortfolioSummary, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	loans, err := s.store.ListLoansByUser(userID)
	if err != nil {
		return nil, err
	}

	summary := &models.PortfolioSummary{}
	for _, loan := range loans {
		if loan.Status == models.LoanStatusActive || loan.Status == models.LoanStatusOverdue {
			summary.ActiveLoans++
		}
		summary.TotalFinanced += loan.Principal

		payments, err := s.store.ListPaymentsByLoan(loan.ID)
		if err != nil {
			return nil, err
		}
		sched := models.CalculateScheduleSummary(payments)
		summary.TotalPaid += sched.PaidAmount
		summary.OutstandingBalance += sched.RemainingPrincipal
		summary.OverduePayments += sched.OverduePayments

		for _, p := range payments {
			if p.Status != models.PaymentStatusPending {
				continue
			}
			if summary.NextPaymentDue == nil || p.DueDate.Before(*summary.NextPaymentDue) {
				due := p.DueDate
				summary.NextPaymentDue = &due
				summary.NextPaymentAmount = p.TotalAmount + p.Penalty
			}
		}
	}

	summary.TotalFinanced = round2(summary.TotalFinanced)
	summary.TotalPaid = round2(summary.TotalPaid)
	summary.OutstandingBalance = round2(summary.OutstandingBalance)
	return summary, nil
}

// ProcessDuePayments is the daily sweep. Pending payments past their due
// date become overdue, the 10% penalty is applied once a payment is more
// than one day late (re-checking payments that went overdue before the
// penalty was due), and each pending payment inside the reminder window gets
// exactly one reminder email.
func (s *Service) ProcessDuePayments(now time.Time) error {
	deadline := now.AddDate(0, 0, s.config.ReminderDays)
	due, err := s.store.ListPaymentsForSweep(deadline)
	if err != nil {
		return err
	}

	for _, payment := range due {
		loan, err := s.store.FindLoanByID(payment.LoanID)
		if err != nil {
			s.log.Errorf("Due sweep: loan %d not found for payment %d: %v", payment.LoanID, payment.ID, err)
			continue
		}
		user, err := s.store.FindUserByID(loan.UserID)
		if err != nil {
			s.log.Errorf("Due sweep: user %d not found for loan %d: %v", loan.UserID, loan.ID, err)
			continue
		}

		wasPending := payment.Status == models.PaymentStatusPending
		if payment.MarkOverdue(now) {
			if err := s.store.MarkPaymentOverdue(payment.ID, payment.Penalty); err != nil {
				s.log.Errorf("Due sweep: failed to mark payment %d overdue: %v", payment.ID, err)
				continue
			}
			if loan.Status != models.LoanStatusOverdue {
				if err := s.store.UpdateLoanStatus(loan.ID, models.LoanStatusOverdue); err != nil {
					s.log.Errorf("Due sweep: failed to flag loan %d overdue: %v", loan.ID, err)
				}
			}
			if err := s.cache.Delete(context.Background(), scheduleCacheKey(loan.ID)); err != nil {
				s.log.Warnf("Due sweep: failed to invalidate cache for loan %d: %v", loan.ID, err)
			}
			// The overdue notice goes out once, on the pending -> overdue
			// transition; a penalty applied on a later sweep is silent.
			if wasPending {
				if err := s.mailer.SendPaymentReminder(user.Email, user.Username,
					payment.DueDate, payment.TotalAmount, payment.Penalty, true); err != nil {
					s.log.Errorf("Due sweep: failed to notify %s about payment %d: %v", user.Email, payment.ID, err)
				}
			}
			continue
		}

		if payment.Status == models.PaymentStatusPending && !payment.ReminderSent {
			if err := s.mailer.SendPaymentReminder(user.Email, user.Username,
				payment.DueDate, payment.TotalAmount, payment.Penalty, false); err != nil {
				s.log.Errorf("Due sweep: failed to notify %s about payment %d: %v", user.Email, payment.ID, err)
				continue
			}
			payment.ReminderSent = true
			if err := s.store.MarkReminderSent(payment.ID); err != nil {
				s.log.Errorf("Due sweep: failed to record reminder for payment %d: %v", payment.ID, err)
			}
		}
	}

	s.log.Infof("Due sweep processed %d payments", len(due))
	return nil
}

func scheduleCacheKey(loanID int64) string {
	return fmt.Sprintf("schedule:%d", loanID)
}

func userIDFromContext(ctx context.Context) (int64, error) {
	userIDStr, ok := ctx.Value("userID").(string)
	if !ok || userIDStr == "" {
		return 0, fmt.Errorf("user ID not found in context")
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID: %w", err)
	}
	return userID, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
