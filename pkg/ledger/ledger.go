// Package ledger handles the loan lifecycle: approval with schedule
// generation, quotes, payments and transaction history.
package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loanbook/pkg/amortize"
	"loanbook/pkg/cache"
	"loanbook/pkg/collections"
	"loanbook/pkg/models"
	"loanbook/pkg/store"
)

// Ledger handles the business logic for loans, schedules and payments.
type Ledger struct {
	storage store.Storage
	cache   cache.Repository
	now     func() time.Time
}

// NewLedger creates a new Ledger with the given storage and quote cache.
func NewLedger(s store.Storage, c cache.Repository) *Ledger {
	return &Ledger{
		storage: s,
		cache:   c,
		now:     time.Now,
	}
}

// ApproveLoan creates a loan, generates and persists its full repayment
// schedule, and records the disbursement.
func (l *Ledger) ApproveLoan(orgID uuid.UUID, customerKey string, principal int64, annualRatePercent decimal.Decimal, termMonths int, startDate time.Time) (*models.Loan, error) {
	installments, err := amortize.Schedule(principal, annualRatePercent, termMonths, startDate)
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:                uuid.New(),
		OrganizationID:    orgID,
		CustomerKey:       customerKey,
		Principal:         principal,
		AnnualRatePercent: annualRatePercent,
		TermMonths:        termMonths,
		StartDate:         startDate,
		Status:            models.LoanStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	entries := make([]*models.ScheduleEntry, 0, len(installments))
	for _, ins := range installments {
		entries = append(entries, &models.ScheduleEntry{
			ID:                    uuid.New(),
			LoanID:                loan.ID,
			Sequence:              ins.Sequence,
			DueDate:               ins.DueDate,
			AmountDue:             ins.AmountDue,
			PrincipalDue:          ins.PrincipalDue,
			InterestDue:           ins.InterestDue,
			RemainingBalanceAfter: ins.RemainingBalanceAfter,
			Status:                models.EntryStatusPending,
		})
	}
	if err := l.storage.CreateScheduleEntries(entries); err != nil {
		return nil, fmt.Errorf("failed to store schedule: %w", err)
	}

	// Record disbursement
	transaction := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    principal,
		Type:      models.TransactionTypeDisbursement,
		Timestamp: now,
	}
	if err := l.storage.CreateTransaction(transaction); err != nil {
		return nil, fmt.Errorf("failed to store disbursement transaction: %w", err)
	}

	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// LoansByOrganization retrieves an organization's loans.
func (l *Ledger) LoansByOrganization(orgID uuid.UUID) ([]*models.Loan, error) {
	return l.storage.GetLoansByOrganization(orgID)
}

// Schedule retrieves a loan's persisted repayment schedule.
func (l *Ledger) Schedule(loanID uuid.UUID) ([]*models.ScheduleEntry, error) {
	return l.storage.GetScheduleForLoan(loanID)
}

// ScheduleLine is a schedule entry annotated with its live overdue state.
type ScheduleLine struct {
	Entry       models.ScheduleEntry `json:"entry"`
	DaysOverdue int                  `json:"days_overdue"`
	Penalty     int64                `json:"penalty"`
}

// OutstandingSchedule returns the loan's schedule with days overdue and the
// accrued penalty computed for every unpaid entry as of now.
func (l *Ledger) OutstandingSchedule(loanID uuid.UUID) ([]ScheduleLine, error) {
	entries, err := l.storage.GetScheduleForLoan(loanID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	lines := make([]ScheduleLine, 0, len(entries))
	for _, e := range entries {
		line := ScheduleLine{Entry: *e}
		if e.Status != models.EntryStatusPaid {
			line.DaysOverdue = collections.DaysOverdue(e.DueDate, now)
			line.Penalty = amortize.Penalty(e.AmountDue, line.DaysOverdue, amortize.DefaultDailyPenaltyRatePercent)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// RecordPayment applies a payment to a loan's unpaid installments, oldest
// first. An installment is settled only when the remaining amount covers it
// in full. Settling the last installment closes the loan, and closing out
// every overdue installment marks an open collection case recovered.
func (l *Ledger) RecordPayment(loanID uuid.UUID, amount int64) (*models.Transaction, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("loan is not active")
	}

	entries, err := l.storage.GetScheduleForLoan(loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule: %w", err)
	}

	now := l.now()
	remaining := amount
	unpaid := 0
	overdueLeft := 0
	for _, e := range entries {
		if e.Status == models.EntryStatusPaid {
			continue
		}
		if remaining >= e.AmountDue {
			remaining -= e.AmountDue
			if err := l.storage.UpdateEntryStatus(e.ID, models.EntryStatusPaid); err != nil {
				return nil, fmt.Errorf("failed to settle installment %d: %w", e.Sequence, err)
			}
			continue
		}
		// Settlement stops at the first installment the payment cannot cover
		// in full; a later, smaller installment must not settle ahead of it.
		remaining = 0
		unpaid++
		if e.Status == models.EntryStatusOverdue {
			overdueLeft++
		}
	}

	if unpaid == 0 {
		loan.Status = models.LoanStatusClosed
		loan.UpdatedAt = now
		if err := l.storage.UpdateLoan(loan); err != nil {
			return nil, fmt.Errorf("failed to close loan: %w", err)
		}
	}

	if overdueLeft == 0 {
		l.markCaseRecovered(loan, now)
	}

	transaction := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    amount,
		Type:      models.TransactionTypePayment,
		Timestamp: now,
	}
	if err := l.storage.CreateTransaction(transaction); err != nil {
		return nil, fmt.Errorf("failed to store payment transaction: %w", err)
	}

	return transaction, nil
}

// markCaseRecovered flags the loan's collection case recovered once no
// overdue installments remain. Best effort: a loan without a case is the
// normal path, and a missing case is not a payment failure.
func (l *Ledger) markCaseRecovered(loan *models.Loan, now time.Time) {
	c, err := l.storage.GetCaseForLoan(loan.OrganizationID, loan.ID)
	if err != nil {
		return
	}
	if c.Status == models.CaseStatusRecovered {
		return
	}
	if err := l.storage.UpdateCaseStatus(c.ID, models.CaseStatusRecovered, now); err != nil {
		log.Printf("Warning: failed to mark case %s recovered: %v", c.ID, err)
	}
}

// Transactions retrieves a loan's transaction history.
func (l *Ledger) Transactions(loanID uuid.UUID) ([]*models.Transaction, error) {
	return l.storage.GetTransactionsForLoan(loanID)
}

// Quote is a schedule preview for loan terms that have not been approved.
type Quote struct {
	MonthlyPayment int64                  `json:"monthly_payment"`
	TotalPayment   int64                  `json:"total_payment"`
	TotalInterest  int64                  `json:"total_interest"`
	Schedule       []amortize.Installment `json:"schedule"`
}

// QuoteLoan computes payment and schedule for prospective terms without
// persisting anything. Results are cached; a cache failure only costs the
// recomputation.
func (l *Ledger) QuoteLoan(principal int64, annualRatePercent decimal.Decimal, termMonths int, startDate time.Time) (*Quote, error) {
	key := fmt.Sprintf("quote:%d:%s:%d:%s", principal, annualRatePercent.String(), termMonths, startDate.Format("2006-01-02"))
	if cached, ok := l.cache.Get(key); ok {
		var q Quote
		if err := json.Unmarshal([]byte(cached), &q); err == nil {
			return &q, nil
		}
	}

	installments, err := amortize.Schedule(principal, annualRatePercent, termMonths, startDate)
	if err != nil {
		return nil, err
	}

	q := &Quote{Schedule: installments}
	for _, ins := range installments {
		q.TotalPayment += ins.AmountDue
		q.TotalInterest += ins.InterestDue
	}
	if len(installments) > 0 {
		q.MonthlyPayment = installments[0].AmountDue
	}

	// Caching is not critical; the next call recomputes.
	if encoded, err := json.Marshal(q); err == nil {
		if err := l.cache.Set(key, string(encoded)); err != nil {
			log.Printf("Warning: failed to cache quote: %v", err)
		}
	}

	return q, nil
}
