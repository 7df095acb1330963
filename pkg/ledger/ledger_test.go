package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loanbook/pkg/amortize"
	"loanbook/pkg/cache"
	"loanbook/pkg/models"
	"loanbook/pkg/store"
)

var testNow = time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger() (*Ledger, *store.MemoryStore) {
	s := store.NewMemoryStore()
	l := NewLedger(s, cache.NewMemory())
	l.now = func() time.Time { return testNow }
	return l, s
}

func approveTestLoan(t *testing.T, l *Ledger, orgID uuid.UUID, startDate time.Time) *models.Loan {
	t.Helper()
	loan, err := l.ApproveLoan(orgID, "cust123", 120000, decimal.NewFromFloat(12.0), 12, startDate)
	if err != nil {
		t.Fatalf("Failed to approve loan: %v", err)
	}
	return loan
}

func TestApproveLoan(t *testing.T) {
	l, s := newTestLedger()
	orgID := uuid.New()

	loan := approveTestLoan(t, l, orgID, time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC))

	if loan.Status != models.LoanStatusActive {
		t.Errorf("Expected status active, got %s", loan.Status)
	}

	entries, err := s.GetScheduleForLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to load schedule: %v", err)
	}
	if len(entries) != 12 {
		t.Fatalf("Expected 12 schedule entries, got %d", len(entries))
	}

	var principalSum int64
	for i, e := range entries {
		if e.Sequence != i+1 {
			t.Errorf("Expected sequence %d, got %d", i+1, e.Sequence)
		}
		if e.Status != models.EntryStatusPending {
			t.Errorf("Entry %d: expected pending, got %s", e.Sequence, e.Status)
		}
		principalSum += e.PrincipalDue
	}
	if principalSum != loan.Principal {
		t.Errorf("Principal portions sum to %d, want %d", principalSum, loan.Principal)
	}

	txs, _ := s.GetTransactionsForLoan(loan.ID)
	if len(txs) != 1 || txs[0].Type != models.TransactionTypeDisbursement {
		t.Errorf("Expected a single disbursement transaction, got %+v", txs)
	}
	if txs[0].Amount != 120000 {
		t.Errorf("Expected disbursement of 120000, got %d", txs[0].Amount)
	}
}

func TestApproveLoan_InvalidTerms(t *testing.T) {
	l, s := newTestLedger()
	orgID := uuid.New()

	_, err := l.ApproveLoan(orgID, "cust123", 120000, decimal.NewFromFloat(12.0), 0, testNow)
	if !errors.Is(err, amortize.ErrInvalidTerms) {
		t.Fatalf("Expected ErrInvalidTerms, got %v", err)
	}

	loans, _ := s.GetLoansByOrganization(orgID)
	if len(loans) != 0 {
		t.Errorf("Nothing should be persisted on validation failure, got %d loans", len(loans))
	}
}

func TestRecordPayment_SettlesOldestFirst(t *testing.T) {
	l, s := newTestLedger()
	loan := approveTestLoan(t, l, uuid.New(), testNow)

	entries, _ := s.GetScheduleForLoan(loan.ID)
	payment := entries[0].AmountDue + entries[1].AmountDue

	tx, err := l.RecordPayment(loan.ID, payment)
	if err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}
	if tx.Amount != payment || tx.Type != models.TransactionTypePayment {
		t.Errorf("Unexpected transaction: %+v", tx)
	}

	entries, _ = s.GetScheduleForLoan(loan.ID)
	if entries[0].Status != models.EntryStatusPaid || entries[1].Status != models.EntryStatusPaid {
		t.Error("First two installments should be paid")
	}
	if entries[2].Status != models.EntryStatusPending {
		t.Errorf("Third installment should stay pending, got %s", entries[2].Status)
	}

	fetched, _ := s.GetLoan(loan.ID)
	if fetched.Status != models.LoanStatusActive {
		t.Errorf("Loan should stay active, got %s", fetched.Status)
	}
}

func TestRecordPayment_PartialAmountSettlesNothing(t *testing.T) {
	l, s := newTestLedger()
	loan := approveTestLoan(t, l, uuid.New(), testNow)

	entries, _ := s.GetScheduleForLoan(loan.ID)
	if _, err := l.RecordPayment(loan.ID, entries[0].AmountDue-1); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	entries, _ = s.GetScheduleForLoan(loan.ID)
	if entries[0].Status != models.EntryStatusPending {
		t.Errorf("Installment not covered in full should stay pending, got %s", entries[0].Status)
	}
}

func TestRecordPayment_DoesNotSkipUncoveredInstallment(t *testing.T) {
	l, s := newTestLedger()

	// Zero-rate 1001 over 10 months: installments 1-9 are 101, the final one
	// is 92. A payment of 92 covers the final installment but not the first.
	loan, err := l.ApproveLoan(uuid.New(), "cust123", 1001, decimal.Zero, 10, testNow)
	if err != nil {
		t.Fatalf("Failed to approve loan: %v", err)
	}

	if _, err := l.RecordPayment(loan.ID, 92); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	entries, _ := s.GetScheduleForLoan(loan.ID)
	if entries[0].Status != models.EntryStatusPending {
		t.Errorf("First installment should stay pending, got %s", entries[0].Status)
	}
	if entries[9].Status != models.EntryStatusPending {
		t.Errorf("Final installment must not settle ahead of older ones, got %s", entries[9].Status)
	}

	// Enough for the first installment plus the final one: only the first
	// settles, the leftover 92 stops at the uncovered second installment.
	if _, err := l.RecordPayment(loan.ID, 101+92); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	entries, _ = s.GetScheduleForLoan(loan.ID)
	if entries[0].Status != models.EntryStatusPaid {
		t.Errorf("First installment should be paid, got %s", entries[0].Status)
	}
	for _, e := range entries[1:] {
		if e.Status != models.EntryStatusPending {
			t.Errorf("Installment %d should stay pending, got %s", e.Sequence, e.Status)
		}
	}
}

type failingCaseStore struct {
	store.Storage
}

func (f *failingCaseStore) UpdateCaseStatus(id uuid.UUID, status models.CaseStatus, updatedAt time.Time) error {
	return errors.New("case store unavailable")
}

func TestRecordPayment_CaseUpdateFailureDoesNotFailPayment(t *testing.T) {
	s := store.NewMemoryStore()
	l := NewLedger(&failingCaseStore{Storage: s}, cache.NewMemory())
	l.now = func() time.Time { return testNow }

	orgID := uuid.New()
	loan := approveTestLoan(t, l, orgID, testNow.AddDate(0, -3, 0))
	entries, _ := s.GetScheduleForLoan(loan.ID)
	if err := s.UpdateEntryStatus(entries[0].ID, models.EntryStatusOverdue); err != nil {
		t.Fatalf("Failed to flag entry overdue: %v", err)
	}
	if _, err := s.InsertCaseIfAbsent(&models.CollectionCase{
		ID:             uuid.New(),
		OrganizationID: orgID,
		LoanID:         loan.ID,
		Status:         models.CaseStatusActive,
		AgingBucket:    models.Bucket31To60,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}); err != nil {
		t.Fatalf("Failed to seed case: %v", err)
	}

	tx, err := l.RecordPayment(loan.ID, entries[0].AmountDue)
	if err != nil {
		t.Fatalf("Payment should succeed despite case update failure: %v", err)
	}
	if tx.Type != models.TransactionTypePayment {
		t.Errorf("Unexpected transaction: %+v", tx)
	}
}

func TestRecordPayment_ClosesLoan(t *testing.T) {
	l, s := newTestLedger()
	loan := approveTestLoan(t, l, uuid.New(), testNow)

	entries, _ := s.GetScheduleForLoan(loan.ID)
	var total int64
	for _, e := range entries {
		total += e.AmountDue
	}

	if _, err := l.RecordPayment(loan.ID, total); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	fetched, _ := s.GetLoan(loan.ID)
	if fetched.Status != models.LoanStatusClosed {
		t.Errorf("Expected loan closed, got %s", fetched.Status)
	}

	// Further payments are rejected.
	if _, err := l.RecordPayment(loan.ID, 100); err == nil {
		t.Error("Expected error for payment on a closed loan")
	}
}

func TestRecordPayment_RecoversCollectionCase(t *testing.T) {
	l, s := newTestLedger()
	orgID := uuid.New()
	loan := approveTestLoan(t, l, orgID, testNow.AddDate(0, -3, 0))

	entries, _ := s.GetScheduleForLoan(loan.ID)
	if err := s.UpdateEntryStatus(entries[0].ID, models.EntryStatusOverdue); err != nil {
		t.Fatalf("Failed to flag entry overdue: %v", err)
	}
	created, err := s.InsertCaseIfAbsent(&models.CollectionCase{
		ID:             uuid.New(),
		OrganizationID: orgID,
		LoanID:         loan.ID,
		Status:         models.CaseStatusActive,
		AgingBucket:    models.Bucket31To60,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	})
	if err != nil || !created {
		t.Fatalf("Failed to seed case: created=%v err=%v", created, err)
	}

	if _, err := l.RecordPayment(loan.ID, entries[0].AmountDue); err != nil {
		t.Fatalf("Failed to record payment: %v", err)
	}

	c, err := s.GetCaseForLoan(orgID, loan.ID)
	if err != nil {
		t.Fatalf("Failed to load case: %v", err)
	}
	if c.Status != models.CaseStatusRecovered {
		t.Errorf("Expected case recovered after clearing overdue installment, got %s", c.Status)
	}
}

func TestOutstandingSchedule(t *testing.T) {
	l, s := newTestLedger()
	loan := approveTestLoan(t, l, uuid.New(), testNow.AddDate(0, -2, -10))

	lines, err := l.OutstandingSchedule(loan.ID)
	if err != nil {
		t.Fatalf("Failed to load outstanding schedule: %v", err)
	}
	if len(lines) != 12 {
		t.Fatalf("Expected 12 lines, got %d", len(lines))
	}

	// Loan started 2024-04-21, so the first installment fell due 2024-05-21,
	// 41 days before testNow.
	first := lines[0]
	if first.DaysOverdue != 41 {
		t.Errorf("Expected 41 days overdue, got %d", first.DaysOverdue)
	}
	wantPenalty := amortize.Penalty(first.Entry.AmountDue, 41, amortize.DefaultDailyPenaltyRatePercent)
	if first.Penalty != wantPenalty {
		t.Errorf("Expected penalty %d, got %d", wantPenalty, first.Penalty)
	}

	// Entries not yet due carry no penalty.
	last := lines[11]
	if last.DaysOverdue != 0 || last.Penalty != 0 {
		t.Errorf("Future installment should carry no penalty, got %+v", last)
	}

	// Paid entries never accrue, regardless of due date.
	entries, _ := s.GetScheduleForLoan(loan.ID)
	s.UpdateEntryStatus(entries[0].ID, models.EntryStatusPaid)
	lines, _ = l.OutstandingSchedule(loan.ID)
	if lines[0].Penalty != 0 {
		t.Errorf("Paid installment should carry no penalty, got %d", lines[0].Penalty)
	}
}

type countingCache struct {
	cache.Repository
	sets int
}

func (c *countingCache) Set(key, value string) error {
	c.sets++
	return c.Repository.Set(key, value)
}

func TestQuoteLoan(t *testing.T) {
	counting := &countingCache{Repository: cache.NewMemory()}
	l := NewLedger(store.NewMemoryStore(), counting)
	l.now = func() time.Time { return testNow }

	start := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	q, err := l.QuoteLoan(120000, decimal.NewFromFloat(12.0), 12, start)
	if err != nil {
		t.Fatalf("Failed to quote: %v", err)
	}

	if q.MonthlyPayment != 10662 {
		t.Errorf("Expected monthly payment 10662, got %d", q.MonthlyPayment)
	}
	if len(q.Schedule) != 12 {
		t.Errorf("Expected 12 installments, got %d", len(q.Schedule))
	}
	if q.TotalPayment != q.TotalInterest+120000 {
		t.Errorf("Total payment %d should equal principal plus interest %d", q.TotalPayment, q.TotalInterest)
	}

	// Second identical quote is served from the cache.
	q2, err := l.QuoteLoan(120000, decimal.NewFromFloat(12.0), 12, start)
	if err != nil {
		t.Fatalf("Failed to quote again: %v", err)
	}
	if counting.sets != 1 {
		t.Errorf("Expected a single cache write, got %d", counting.sets)
	}
	if q2.MonthlyPayment != q.MonthlyPayment || q2.TotalPayment != q.TotalPayment {
		t.Error("Cached quote should match the computed one")
	}
}
