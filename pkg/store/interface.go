package store

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"loanbook/pkg/models"
)

var (
	ErrLoanNotFound  = errors.New("loan not found")
	ErrEntryNotFound = errors.New("schedule entry not found")
	ErrCaseNotFound  = errors.New("collection case not found")
)

// Storage defines the persistence operations the ledger and the collections
// manager need. Implementations must make InsertCaseIfAbsent atomic so two
// concurrent scans cannot both create a case for the same loan.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetLoansByOrganization(orgID uuid.UUID) ([]*models.Loan, error)
	ListOrganizations() ([]uuid.UUID, error)

	CreateScheduleEntries(entries []*models.ScheduleEntry) error
	GetScheduleForLoan(loanID uuid.UUID) ([]*models.ScheduleEntry, error)
	// GetDuePendingEntries returns pending entries with dueDate <= asOf for
	// loans in the organization, oldest due date first.
	GetDuePendingEntries(orgID uuid.UUID, asOf time.Time) ([]*models.ScheduleEntry, error)
	UpdateEntryStatus(entryID uuid.UUID, status models.EntryStatus) error

	GetCase(id uuid.UUID) (*models.CollectionCase, error)
	GetCaseForLoan(orgID, loanID uuid.UUID) (*models.CollectionCase, error)
	// InsertCaseIfAbsent inserts the case unless one already exists for the
	// same (organization, loan). Reports whether a row was inserted.
	InsertCaseIfAbsent(c *models.CollectionCase) (bool, error)
	UpdateCaseBucket(id uuid.UUID, bucket models.AgingBucket, updatedAt time.Time) error
	UpdateCaseStatus(id uuid.UUID, status models.CaseStatus, updatedAt time.Time) error
	UpdateCaseAgent(id uuid.UUID, agentID uuid.UUID, updatedAt time.Time) error
	GetCasesByOrganization(orgID uuid.UUID) ([]*models.CollectionCase, error)

	CreateTransaction(transaction *models.Transaction) error
	GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error)

	Close() error
}
