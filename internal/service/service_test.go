package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/brickvest/estate-finance/internal/amortization"
	"github.com/brickvest/estate-finance/internal/config"
	"github.com/brickvest/estate-finance/internal/models"
	"github.com/brickvest/estate-finance/internal/repository"
	"github.com/sirupsen/logrus"
)

// fakeStore is an in-memory Store used for service tests.
type fakeStore struct {
	users            map[int64]*models.User
	properties       map[int64]*models.Property
	loans            map[int64]*models.Loan
	payments         map[int64]*models.Payment
	nextID           int64
	listPaymentCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[int64]*models.User{},
		properties: map[int64]*models.Property{},
		loans:      map[int64]*models.Loan{},
		payments:   map[int64]*models.Payment{},
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) CreateUser(user *models.User) error {
	user.ID = f.id()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) FindUserByEmail(email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
}

func (f *fakeStore) FindUserByID(id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return u, nil
}

func (f *fakeStore) CreateProperty(p *models.Property) error {
	p.ID = f.id()
	f.properties[p.ID] = p
	return nil
}

func (f *fakeStore) ListProperties() ([]*models.Property, error) {
	var out []*models.Property
	for _, p := range f.properties {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) FindPropertyByID(id int64) (*models.Property, error) {
	p, ok := f.properties[id]
	if !ok {
		return nil, fmt.Errorf("property %d: %w", id, repository.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) CreateLoanWithSchedule(loan *models.Loan, payments []*models.Payment) error {
	loan.ID = f.id()
	f.loans[loan.ID] = loan
	for _, p := range payments {
		p.ID = f.id()
		p.LoanID = loan.ID
		f.payments[p.ID] = p
	}
	return nil
}

func (f *fakeStore) FindLoanByID(id int64) (*models.Loan, error) {
	l, ok := f.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %d: %w", id, repository.ErrNotFound)
	}
	return l, nil
}

func (f *fakeStore) UpdateLoanStatus(id int64, status models.LoanStatus) error {
	l, ok := f.loans[id]
	if !ok {
		return repository.ErrNotFound
	}
	l.Status = status
	return nil
}

func (f *fakeStore) ListLoansByUser(userID int64) ([]*models.Loan, error) {
	var out []*models.Loan
	for _, l := range f.loans {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPaymentsByLoan(loanID int64) ([]*models.Payment, error) {
	f.listPaymentCalls++
	var out []*models.Payment
	for _, p := range f.payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) FindPaymentByID(id int64) (*models.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, repository.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) MarkPaymentPaid(id int64, receiptID string) error {
	p, ok := f.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = models.PaymentStatusPaid
	p.ReceiptID = receiptID
	return nil
}

func (f *fakeStore) ListPaymentsForSweep(deadline time.Time) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentStatusPending && !p.DueDate.After(deadline) {
			out = append(out, p)
		}
		if p.Status == models.PaymentStatusOverdue && p.Penalty == 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPaymentOverdue(id int64, penalty float64) error {
	p, ok := f.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = models.PaymentStatusOverdue
	p.Penalty = penalty
	return nil
}

func (f *fakeStore) MarkReminderSent(id int64) error {
	p, ok := f.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.ReminderSent = true
	return nil
}

type fakeCache struct {
	entries map[string]string
	sets    int
	deletes int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]string{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := f.entries[key]
	return v, ok
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.sets++
	f.entries[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.deletes++
	delete(f.entries, key)
	return nil
}

type fakeRates struct {
	rate  float64
	err   error
	calls int
}

func (f *fakeRates) QuoteRate() (float64, error) {
	f.calls++
	return f.rate, f.err
}

type reminderCall struct {
	to      string
	overdue bool
	penalty float64
}

type fakeMailer struct {
	reminders     []reminderCall
	confirmations int
}

func (f *fakeMailer) SendPaymentReminder(to, _ string, _ time.Time, _, penalty float64, overdue bool) error {
	f.reminders = append(f.reminders, reminderCall{to: to, overdue: overdue, penalty: penalty})
	return nil
}

func (f *fakeMailer) SendFinancingConfirmation(_, _, _ string, _, _ float64, _ int) error {
	f.confirmations++
	return nil
}

type testEnv struct {
	svc    *Service
	store  *fakeStore
	cache  *fakeCache
	rates  *fakeRates
	mailer *fakeMailer
}

func newTestEnv() *testEnv {
	store := newFakeStore()
	c := newFakeCache()
	rates := &fakeRates{rate: 7.5}
	mailer := &fakeMailer{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		JWTSecret:     "test-secret",
		HMACSecret:    "test-hmac",
		EncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		ReminderDays:  3,
	}
	return &testEnv{
		svc:    NewService(store, c, rates, mailer, logger, cfg),
		store:  store,
		cache:  c,
		rates:  rates,
		mailer: mailer,
	}
}

func authContext(userID int64) context.Context {
	return context.WithValue(context.Background(), "userID", fmt.Sprintf("%d", userID))
}

func annualRate(v float64) *float64 {
	return &v
}

func seedBorrowerAndProperty(env *testEnv) (*models.User, *models.Property) {
	user := &models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleInvestor}
	env.store.CreateUser(user)
	property := &models.Property{OwnerID: user.ID, Title: "Harbor Lofts 4B", ListPrice: 120000, TokenPrice: 50, TotalTokens: 2400}
	env.store.CreateProperty(property)
	return user, property
}

func TestFinanceProperty(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	loan, payments, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 20000,
		AnnualRate:  annualRate(6),
		TermMonths:  120,
		Frequency:   "monthly",
		StartDate:   "2025-01-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loan.Principal != 100000 {
		t.Errorf("expected principal 100000, got %.2f", loan.Principal)
	}
	if len(payments) != 120 {
		t.Fatalf("expected 120 payments, got %d", len(payments))
	}
	if !strings.HasPrefix(loan.Reference, "FIN-") {
		t.Errorf("unexpected reference: %s", loan.Reference)
	}
	if loan.HMAC == "" {
		t.Error("expected integrity tag on loan")
	}
	if payments[0].DueDate != time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected first due date: %v", payments[0].DueDate)
	}
	if _, ok := env.store.loans[loan.ID]; !ok {
		t.Error("loan should be persisted")
	}
	if env.mailer.confirmations != 1 {
		t.Errorf("expected 1 confirmation email, got %d", env.mailer.confirmations)
	}
}

func TestFinanceProperty_QuotesRateWhenAbsent(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	env.rates.rate = 8.25

	loan, _, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 20000,
		TermMonths:  60,
		Frequency:   "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loan.AnnualRate != 8.25 {
		t.Errorf("expected quoted rate 8.25, got %.2f", loan.AnnualRate)
	}
	if env.rates.calls != 1 {
		t.Errorf("expected one rate quote, got %d", env.rates.calls)
	}
}

func TestFinanceProperty_ExplicitZeroRate(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	loan, payments, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 20000,
		AnnualRate:  annualRate(0),
		TermMonths:  12,
		Frequency:   "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.rates.calls != 0 {
		t.Errorf("explicit 0%% rate should not consult the benchmark feed, got %d quotes", env.rates.calls)
	}
	if loan.AnnualRate != 0 {
		t.Errorf("expected rate 0, got %.2f", loan.AnnualRate)
	}
	for _, p := range payments {
		if p.InterestAmount != 0 {
			t.Fatalf("payment %d: expected zero interest, got %.2f", p.Number, p.InterestAmount)
		}
	}
}

func TestFinanceProperty_DownPaymentCoversPrice(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	_, _, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 120000,
		AnnualRate:  annualRate(6),
		TermMonths:  60,
		Frequency:   "monthly",
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFinanceProperty_BadStartDate(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	_, _, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 20000,
		AnnualRate:  annualRate(6),
		TermMonths:  60,
		Frequency:   "monthly",
		StartDate:   "01/06/2025",
	})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestFinanceProperty_InvalidFrequency(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	_, _, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID:  property.ID,
		DownPayment: 20000,
		AnnualRate:  annualRate(6),
		TermMonths:  60,
		Frequency:   "daily",
	})
	if !errors.Is(err, amortization.ErrInvalidInput) {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestGetSchedule_CachesView(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	ctx := authContext(user.ID)

	loan, _, err := env.svc.FinanceProperty(ctx, &models.LoanRequest{
		PropertyID: property.ID, DownPayment: 20000, AnnualRate: annualRate(6),
		TermMonths: 24, Frequency: "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := env.svc.GetSchedule(ctx, loan.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Summary.TotalPayments != 24 {
		t.Errorf("expected 24 payments in summary, got %d", first.Summary.TotalPayments)
	}
	if env.cache.sets != 1 {
		t.Fatalf("expected view to be cached, sets=%d", env.cache.sets)
	}

	callsBefore := env.store.listPaymentCalls
	second, err := env.svc.GetSchedule(ctx, loan.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.store.listPaymentCalls != callsBefore {
		t.Error("second read should be served from cache")
	}
	if len(second.Payments) != 24 {
		t.Errorf("expected 24 payments from cache, got %d", len(second.Payments))
	}
}

func TestGetSchedule_Forbidden(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)

	loan, _, err := env.svc.FinanceProperty(authContext(user.ID), &models.LoanRequest{
		PropertyID: property.ID, DownPayment: 20000, AnnualRate: annualRate(6),
		TermMonths: 24, Frequency: "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = env.svc.GetSchedule(authContext(999), loan.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected forbidden error, got %v", err)
	}
}

func TestRecordPayment(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	ctx := authContext(user.ID)

	loan, payments, err := env.svc.FinanceProperty(ctx, &models.LoanRequest{
		PropertyID: property.ID, DownPayment: 20000, AnnualRate: annualRate(6),
		TermMonths: 12, Frequency: "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Warm the cache so the invalidation is observable.
	if _, err := env.svc.GetSchedule(ctx, loan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paid, err := env.svc.RecordPayment(ctx, payments[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid.Status != models.PaymentStatusPaid {
		t.Errorf("expected PAID, got %s", paid.Status)
	}
	if paid.ReceiptID == "" {
		t.Error("expected a receipt id")
	}
	if env.cache.deletes == 0 {
		t.Error("expected schedule cache to be invalidated")
	}

	if _, err := env.svc.RecordPayment(ctx, payments[0].ID); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error on double payment, got %v", err)
	}
}

func TestProcessDuePayments(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	loan := &models.Loan{PropertyID: property.ID, UserID: user.ID, Reference: "FIN-1", Status: models.LoanStatusActive}
	overduePayment := &models.Payment{Number: 1, DueDate: now.AddDate(0, 0, -5), TotalAmount: 900, Status: models.PaymentStatusPending}
	upcomingPayment := &models.Payment{Number: 2, DueDate: now.AddDate(0, 0, 2), TotalAmount: 900, Status: models.PaymentStatusPending}
	farPayment := &models.Payment{Number: 3, DueDate: now.AddDate(0, 1, 0), TotalAmount: 900, Status: models.PaymentStatusPending}
	env.store.CreateLoanWithSchedule(loan, []*models.Payment{overduePayment, upcomingPayment, farPayment})

	if err := env.svc.ProcessDuePayments(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if overduePayment.Status != models.PaymentStatusOverdue {
		t.Errorf("expected overdue payment to be flagged, got %s", overduePayment.Status)
	}
	if overduePayment.Penalty != 90 {
		t.Errorf("expected penalty 90.00, got %.2f", overduePayment.Penalty)
	}
	if upcomingPayment.Status != models.PaymentStatusPending {
		t.Errorf("upcoming payment should stay pending, got %s", upcomingPayment.Status)
	}
	if farPayment.Status != models.PaymentStatusPending {
		t.Errorf("far payment should be untouched, got %s", farPayment.Status)
	}

	if len(env.mailer.reminders) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(env.mailer.reminders))
	}
	overdueCount := 0
	for _, r := range env.mailer.reminders {
		if r.to != user.Email {
			t.Errorf("notification sent to wrong address: %s", r.to)
		}
		if r.overdue {
			overdueCount++
		}
	}
	if overdueCount != 1 {
		t.Errorf("expected exactly one overdue notice, got %d", overdueCount)
	}
	if loan.Status != models.LoanStatusOverdue {
		t.Errorf("expected loan to be flagged OVERDUE, got %s", loan.Status)
	}
}

func TestProcessDuePayments_PenaltyLandsAcrossDailySweeps(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	due := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	loan := &models.Loan{PropertyID: property.ID, UserID: user.ID, Reference: "FIN-1", Status: models.LoanStatusActive}
	payment := &models.Payment{Number: 1, DueDate: due, TotalAmount: 900, Status: models.PaymentStatusPending}
	env.store.CreateLoanWithSchedule(loan, []*models.Payment{payment})

	// Morning sweeps from three days before the due date to ten days after.
	for day := -3; day <= 10; day++ {
		sweepAt := due.AddDate(0, 0, day).Add(8 * time.Hour)
		if err := env.svc.ProcessDuePayments(sweepAt); err != nil {
			t.Fatalf("sweep on day %+d: %v", day, err)
		}
	}

	if payment.Status != models.PaymentStatusOverdue {
		t.Fatalf("expected OVERDUE, got %s", payment.Status)
	}
	if payment.Penalty != 90 {
		t.Errorf("expected penalty 90.00 once more than a day late, got %.2f", payment.Penalty)
	}
	if loan.Status != models.LoanStatusOverdue {
		t.Errorf("expected loan OVERDUE, got %s", loan.Status)
	}

	// One reminder before the due date, one overdue notice at the
	// transition. No duplicates on the following days.
	if len(env.mailer.reminders) != 2 {
		t.Fatalf("expected 2 notifications across all sweeps, got %d", len(env.mailer.reminders))
	}
	if env.mailer.reminders[0].overdue {
		t.Error("first notification should be the upcoming-payment reminder")
	}
	if !env.mailer.reminders[1].overdue {
		t.Error("second notification should be the overdue notice")
	}
}

func TestRecordPayment_ClosesLoanAfterFinalPayment(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	ctx := authContext(user.ID)

	loan, payments, err := env.svc.FinanceProperty(ctx, &models.LoanRequest{
		PropertyID: property.ID, DownPayment: 20000, AnnualRate: annualRate(6),
		TermMonths: 2, Frequency: "monthly",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}

	if _, err := env.svc.RecordPayment(ctx, payments[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loan.Status != models.LoanStatusActive {
		t.Errorf("loan should stay ACTIVE with a payment outstanding, got %s", loan.Status)
	}

	if _, err := env.svc.RecordPayment(ctx, payments[1].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.store.loans[loan.ID].Status != models.LoanStatusClosed {
		t.Errorf("expected loan CLOSED after the final payment, got %s", env.store.loans[loan.ID].Status)
	}
}

func TestRecordPayment_ClearsOverdueLoan(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	ctx := authContext(user.ID)

	loan := &models.Loan{PropertyID: property.ID, UserID: user.ID, Reference: "FIN-2", Status: models.LoanStatusOverdue}
	late := &models.Payment{Number: 1, DueDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), TotalAmount: 900, Penalty: 90, Status: models.PaymentStatusOverdue}
	upcoming := &models.Payment{Number: 2, DueDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), TotalAmount: 900, Status: models.PaymentStatusPending}
	env.store.CreateLoanWithSchedule(loan, []*models.Payment{late, upcoming})

	if _, err := env.svc.RecordPayment(ctx, late.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loan.Status != models.LoanStatusActive {
		t.Errorf("expected loan back to ACTIVE once the overdue payment is settled, got %s", loan.Status)
	}
}

func TestPortfolio(t *testing.T) {
	env := newTestEnv()
	user, property := seedBorrowerAndProperty(env)
	ctx := authContext(user.ID)

	loan, payments, err := env.svc.FinanceProperty(ctx, &models.LoanRequest{
		PropertyID: property.ID, DownPayment: 20000, AnnualRate: annualRate(6),
		TermMonths: 12, Frequency: "monthly", StartDate: "2025-01-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.svc.RecordPayment(ctx, payments[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary, err := env.svc.Portfolio(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.ActiveLoans != 1 {
		t.Errorf("expected 1 active loan, got %d", summary.ActiveLoans)
	}
	if summary.TotalFinanced != loan.Principal {
		t.Errorf("expected financed %.2f, got %.2f", loan.Principal, summary.TotalFinanced)
	}
	if summary.TotalPaid != payments[0].TotalAmount {
		t.Errorf("expected paid %.2f, got %.2f", payments[0].TotalAmount, summary.TotalPaid)
	}
	if summary.NextPaymentDue == nil {
		t.Fatal("expected a next payment")
	}
	want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if !summary.NextPaymentDue.Equal(want) {
		t.Errorf("expected next payment %v, got %v", want, *summary.NextPaymentDue)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv()

	user, err := env.svc.Register("bob", "bob@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Role != models.RoleInvestor {
		t.Errorf("expected default role investor, got %s", user.Role)
	}

	token, err := env.svc.Login("bob@example.com", "hunter22")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Error("expected a token")
	}

	if _, err := env.svc.Login("bob@example.com", "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestRegister_UnknownRole(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.Register("eve", "eve@example.com", "pw", "admin"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
