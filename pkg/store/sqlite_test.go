package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"loanbook/pkg/models"
)

var sqliteTestNow = time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "loanbook_test.db")
	os.Remove(dbFile)

	s, err := NewSQLiteStore(dbFile)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSQLiteLoan(orgID uuid.UUID) *models.Loan {
	return &models.Loan{
		ID:                uuid.New(),
		OrganizationID:    orgID,
		CustomerKey:       "cust_test",
		Principal:         200000,
		AnnualRatePercent: decimal.NewFromFloat(12.5),
		TermMonths:        12,
		StartDate:         sqliteTestNow.AddDate(0, -3, 0),
		Status:            models.LoanStatusActive,
		CreatedAt:         sqliteTestNow,
		UpdatedAt:         sqliteTestNow,
	}
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	s := newTestSQLiteStore(t)

	loan := newSQLiteLoan(uuid.New())
	if err := s.CreateLoan(loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	fetched, err := s.GetLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}

	if fetched.CustomerKey != loan.CustomerKey {
		t.Errorf("Expected CustomerKey %s, got %s", loan.CustomerKey, fetched.CustomerKey)
	}
	if fetched.Principal != loan.Principal {
		t.Errorf("Expected Principal %d, got %d", loan.Principal, fetched.Principal)
	}
	if !fetched.AnnualRatePercent.Equal(loan.AnnualRatePercent) {
		t.Errorf("Expected rate %s, got %s", loan.AnnualRatePercent, fetched.AnnualRatePercent)
	}
	if fetched.OrganizationID != loan.OrganizationID {
		t.Errorf("Expected org %s, got %s", loan.OrganizationID, fetched.OrganizationID)
	}

	if _, err := s.GetLoan(uuid.New()); !errors.Is(err, ErrLoanNotFound) {
		t.Errorf("Expected ErrLoanNotFound, got %v", err)
	}
}

func TestSQLiteStore_ScheduleEntries(t *testing.T) {
	s := newTestSQLiteStore(t)
	orgID := uuid.New()
	loan := newSQLiteLoan(orgID)
	if err := s.CreateLoan(loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	entries := []*models.ScheduleEntry{
		{ID: uuid.New(), LoanID: loan.ID, Sequence: 2, DueDate: sqliteTestNow.AddDate(0, 0, 10), AmountDue: 10662, PrincipalDue: 9557, InterestDue: 1105, RemainingBalanceAfter: 90000, Status: models.EntryStatusPending},
		{ID: uuid.New(), LoanID: loan.ID, Sequence: 1, DueDate: sqliteTestNow.AddDate(0, 0, -20), AmountDue: 10662, PrincipalDue: 9462, InterestDue: 1200, RemainingBalanceAfter: 99557, Status: models.EntryStatusPending},
	}
	if err := s.CreateScheduleEntries(entries); err != nil {
		t.Fatalf("Failed to create entries: %v", err)
	}

	schedule, err := s.GetScheduleForLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get schedule: %v", err)
	}
	if len(schedule) != 2 || schedule[0].Sequence != 1 || schedule[1].Sequence != 2 {
		t.Fatalf("Expected schedule ordered by sequence, got %+v", schedule)
	}

	due, err := s.GetDuePendingEntries(orgID, sqliteTestNow)
	if err != nil {
		t.Fatalf("Failed to get due entries: %v", err)
	}
	if len(due) != 1 || due[0].Sequence != 1 {
		t.Fatalf("Expected only the past-due entry, got %+v", due)
	}

	// Scoping: another organization sees nothing.
	otherDue, err := s.GetDuePendingEntries(uuid.New(), sqliteTestNow)
	if err != nil {
		t.Fatalf("Failed to query other org: %v", err)
	}
	if len(otherDue) != 0 {
		t.Errorf("Expected no entries for an unrelated org, got %d", len(otherDue))
	}

	if err := s.UpdateEntryStatus(due[0].ID, models.EntryStatusOverdue); err != nil {
		t.Fatalf("Failed to update entry status: %v", err)
	}
	due, _ = s.GetDuePendingEntries(orgID, sqliteTestNow)
	if len(due) != 0 {
		t.Errorf("Overdue entry should no longer be pending, got %d", len(due))
	}

	if err := s.UpdateEntryStatus(uuid.New(), models.EntryStatusPaid); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Expected ErrEntryNotFound, got %v", err)
	}
}

func TestSQLiteStore_CollectionCases(t *testing.T) {
	s := newTestSQLiteStore(t)
	orgID := uuid.New()
	loan := newSQLiteLoan(orgID)
	if err := s.CreateLoan(loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	c := &models.CollectionCase{
		ID:             uuid.New(),
		OrganizationID: orgID,
		LoanID:         loan.ID,
		Status:         models.CaseStatusActive,
		AgingBucket:    models.Bucket0To30,
		CreatedAt:      sqliteTestNow,
		UpdatedAt:      sqliteTestNow,
	}
	created, err := s.InsertCaseIfAbsent(c)
	if err != nil {
		t.Fatalf("Failed to insert case: %v", err)
	}
	if !created {
		t.Fatal("Expected first insert to create the case")
	}

	// A second insert for the same loan is silently absorbed.
	dup := *c
	dup.ID = uuid.New()
	created, err = s.InsertCaseIfAbsent(&dup)
	if err != nil {
		t.Fatalf("Duplicate insert errored: %v", err)
	}
	if created {
		t.Error("Expected duplicate insert to be a no-op")
	}

	fetched, err := s.GetCaseForLoan(orgID, loan.ID)
	if err != nil {
		t.Fatalf("Failed to get case: %v", err)
	}
	if fetched.ID != c.ID {
		t.Errorf("Expected the original case %s, got %s", c.ID, fetched.ID)
	}
	if fetched.AgentID != nil {
		t.Error("Expected no agent on a fresh case")
	}

	later := sqliteTestNow.Add(time.Hour)
	if err := s.UpdateCaseBucket(c.ID, models.Bucket61To90, later); err != nil {
		t.Fatalf("Failed to update bucket: %v", err)
	}
	agentID := uuid.New()
	if err := s.UpdateCaseAgent(c.ID, agentID, later); err != nil {
		t.Fatalf("Failed to assign agent: %v", err)
	}
	if err := s.UpdateCaseStatus(c.ID, models.CaseStatusEscalated, later); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	fetched, _ = s.GetCase(c.ID)
	if fetched.AgingBucket != models.Bucket61To90 {
		t.Errorf("Expected bucket 61-90, got %s", fetched.AgingBucket)
	}
	if fetched.AgentID == nil || *fetched.AgentID != agentID {
		t.Errorf("Expected agent %s, got %v", agentID, fetched.AgentID)
	}
	if fetched.Status != models.CaseStatusEscalated {
		t.Errorf("Expected status escalated, got %s", fetched.Status)
	}

	if err := s.UpdateCaseStatus(uuid.New(), models.CaseStatusActive, later); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("Expected ErrCaseNotFound, got %v", err)
	}
	if _, err := s.GetCaseForLoan(orgID, uuid.New()); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("Expected ErrCaseNotFound, got %v", err)
	}

	cases, err := s.GetCasesByOrganization(orgID)
	if err != nil {
		t.Fatalf("Failed to list cases: %v", err)
	}
	if len(cases) != 1 {
		t.Errorf("Expected 1 case, got %d", len(cases))
	}
}

func TestSQLiteStore_Transactions(t *testing.T) {
	s := newTestSQLiteStore(t)
	loan := newSQLiteLoan(uuid.New())
	// Must create loan first due to foreign key
	if err := s.CreateLoan(loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	tx := &models.Transaction{
		ID:        uuid.New(),
		LoanID:    loan.ID,
		Amount:    5000,
		Type:      models.TransactionTypePayment,
		Timestamp: sqliteTestNow,
	}
	if err := s.CreateTransaction(tx); err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}

	txs, err := s.GetTransactionsForLoan(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Amount != 5000 {
		t.Errorf("Expected amount 5000, got %d", txs[0].Amount)
	}
}

func TestSQLiteStore_ListOrganizations(t *testing.T) {
	s := newTestSQLiteStore(t)
	orgA := uuid.New()
	orgB := uuid.New()
	for _, org := range []uuid.UUID{orgA, orgA, orgB} {
		if err := s.CreateLoan(newSQLiteLoan(org)); err != nil {
			t.Fatalf("Failed to create loan: %v", err)
		}
	}

	orgs, err := s.ListOrganizations()
	if err != nil {
		t.Fatalf("Failed to list organizations: %v", err)
	}
	if len(orgs) != 2 {
		t.Errorf("Expected 2 distinct organizations, got %d", len(orgs))
	}
}
