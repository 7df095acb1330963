package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loanbook/pkg/models"
)

// MemoryStore is an in-memory Storage implementation used in tests and local
// development. Values are copied on the way in and out so callers cannot
// mutate stored state behind the store's back.
type MemoryStore struct {
	mu      sync.Mutex
	loans   map[uuid.UUID]models.Loan
	entries map[uuid.UUID]models.ScheduleEntry
	cases   map[uuid.UUID]models.CollectionCase
	txs     []models.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans:   make(map[uuid.UUID]models.Loan),
		entries: make(map[uuid.UUID]models.ScheduleEntry),
		cases:   make(map[uuid.UUID]models.CollectionCase),
	}
}

func (m *MemoryStore) CreateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemoryStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	return &loan, nil
}

func (m *MemoryStore) UpdateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loans[loan.ID]; !ok {
		return ErrLoanNotFound
	}
	m.loans[loan.ID] = *loan
	return nil
}

func (m *MemoryStore) GetLoansByOrganization(orgID uuid.UUID) ([]*models.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var loans []*models.Loan
	for _, l := range m.loans {
		if l.OrganizationID == orgID {
			loan := l
			loans = append(loans, &loan)
		}
	}
	return loans, nil
}

func (m *MemoryStore) ListOrganizations() ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var orgs []uuid.UUID
	for _, l := range m.loans {
		if !seen[l.OrganizationID] {
			seen[l.OrganizationID] = true
			orgs = append(orgs, l.OrganizationID)
		}
	}
	return orgs, nil
}

func (m *MemoryStore) CreateScheduleEntries(entries []*models.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = *e
	}
	return nil
}

func (m *MemoryStore) GetScheduleForLoan(loanID uuid.UUID) ([]*models.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*models.ScheduleEntry
	for _, e := range m.entries {
		if e.LoanID == loanID {
			entry := e
			entries = append(entries, &entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

func (m *MemoryStore) GetDuePendingEntries(orgID uuid.UUID, asOf time.Time) ([]*models.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*models.ScheduleEntry
	for _, e := range m.entries {
		loan, ok := m.loans[e.LoanID]
		if !ok || loan.OrganizationID != orgID {
			continue
		}
		if e.Status == models.EntryStatusPending && !e.DueDate.After(asOf) {
			entry := e
			entries = append(entries, &entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DueDate.Equal(entries[j].DueDate) {
			return entries[i].DueDate.Before(entries[j].DueDate)
		}
		return entries[i].Sequence < entries[j].Sequence
	})
	return entries, nil
}

func (m *MemoryStore) UpdateEntryStatus(entryID uuid.UUID, status models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	e.Status = status
	m.entries[entryID] = e
	return nil
}

func (m *MemoryStore) GetCase(id uuid.UUID) (*models.CollectionCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return &c, nil
}

func (m *MemoryStore) GetCaseForLoan(orgID, loanID uuid.UUID) (*models.CollectionCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caseForLoanLocked(orgID, loanID); ok {
		return c, nil
	}
	return nil, ErrCaseNotFound
}

func (m *MemoryStore) caseForLoanLocked(orgID, loanID uuid.UUID) (*models.CollectionCase, bool) {
	for _, c := range m.cases {
		if c.OrganizationID == orgID && c.LoanID == loanID {
			found := c
			return &found, true
		}
	}
	return nil, false
}

func (m *MemoryStore) InsertCaseIfAbsent(c *models.CollectionCase) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caseForLoanLocked(c.OrganizationID, c.LoanID); ok {
		return false, nil
	}
	m.cases[c.ID] = *c
	return true, nil
}

func (m *MemoryStore) UpdateCaseBucket(id uuid.UUID, bucket models.AgingBucket, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	c.AgingBucket = bucket
	c.UpdatedAt = updatedAt
	m.cases[id] = c
	return nil
}

func (m *MemoryStore) UpdateCaseStatus(id uuid.UUID, status models.CaseStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	c.Status = status
	c.UpdatedAt = updatedAt
	m.cases[id] = c
	return nil
}

func (m *MemoryStore) UpdateCaseAgent(id uuid.UUID, agentID uuid.UUID, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return ErrCaseNotFound
	}
	c.AgentID = &agentID
	c.UpdatedAt = updatedAt
	m.cases[id] = c
	return nil
}

func (m *MemoryStore) GetCasesByOrganization(orgID uuid.UUID) ([]*models.CollectionCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cases []*models.CollectionCase
	for _, c := range m.cases {
		if c.OrganizationID == orgID {
			found := c
			cases = append(cases, &found)
		}
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].CreatedAt.Before(cases[j].CreatedAt) })
	return cases, nil
}

func (m *MemoryStore) CreateTransaction(transaction *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, *transaction)
	return nil
}

func (m *MemoryStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var txs []*models.Transaction
	for _, tx := range m.txs {
		if tx.LoanID == loanID {
			found := tx
			txs = append(txs, &found)
		}
	}
	return txs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
