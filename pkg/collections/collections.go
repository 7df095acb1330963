// Package collections turns the passage of time into state: it scans
// repayment schedules for overdue installments, maintains one collection case
// per delinquent loan, and handles agent assignment and case-status changes.
package collections

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"loanbook/pkg/models"
	"loanbook/pkg/store"
)

// Manager drives the overdue scan and the collection-case lifecycle.
type Manager struct {
	storage store.Storage
	log     *logrus.Logger
	now     func() time.Time // swapped out in tests
}

func NewManager(s store.Storage, l *logrus.Logger) *Manager {
	return &Manager{
		storage: s,
		log:     l,
		now:     time.Now,
	}
}

// SyncReport summarizes one scan run.
type SyncReport struct {
	EntriesFlagged int `json:"entries_flagged"`
	CasesCreated   int `json:"cases_created"`
	CasesUpdated   int `json:"cases_updated"`
	Failures       int `json:"failures"`
}

// DaysOverdue returns how many whole days past due a due date is at asOf.
// Zero for anything due today or in the future.
func DaysOverdue(dueDate, asOf time.Time) int {
	if !asOf.After(dueDate) {
		return 0
	}
	return int(asOf.Sub(dueDate).Hours() / 24)
}

// BucketForDays classifies days-past-due into an aging bucket. Boundaries are
// strict: exactly 30 days is still "0-30", 31 crosses into "31-60".
func BucketForDays(daysOverdue int) models.AgingBucket {
	switch {
	case daysOverdue > 90:
		return models.Bucket90Plus
	case daysOverdue > 60:
		return models.Bucket61To90
	case daysOverdue > 30:
		return models.Bucket31To60
	default:
		return models.Bucket0To30
	}
}

// SyncOverdueCases scans the organization's pending schedule entries that
// have passed their due date, upserts a collection case per delinquent loan,
// and flips the entries to overdue. Each entry is processed independently: a
// failure is logged and counted, and the scan moves on, so a partial run
// converges on the next invocation. Re-running with no new overdue entries
// changes nothing beyond bucket refreshes.
func (m *Manager) SyncOverdueCases(orgID uuid.UUID) (SyncReport, error) {
	var report SyncReport
	now := m.now()

	entries, err := m.storage.GetDuePendingEntries(orgID, now)
	if err != nil {
		return report, fmt.Errorf("failed to query overdue entries: %w", err)
	}

	// Entries arrive oldest first; only the first entry per loan drives the
	// case bucket, so the bucket always reflects the oldest unpaid
	// installment rather than whichever entry happened to be processed last.
	caseHandled := make(map[uuid.UUID]bool)

	for _, entry := range entries {
		if err := m.processEntry(orgID, entry, now, caseHandled, &report); err != nil {
			report.Failures++
			m.log.WithError(err).WithFields(logrus.Fields{
				"loan_id":  entry.LoanID,
				"sequence": entry.Sequence,
			}).Error("overdue sync: entry skipped, will retry next scan")
		}
	}

	m.log.WithFields(logrus.Fields{
		"organization_id": orgID,
		"entries_flagged": report.EntriesFlagged,
		"cases_created":   report.CasesCreated,
		"cases_updated":   report.CasesUpdated,
		"failures":        report.Failures,
	}).Info("overdue sync complete")

	return report, nil
}

func (m *Manager) processEntry(orgID uuid.UUID, entry *models.ScheduleEntry, now time.Time, caseHandled map[uuid.UUID]bool, report *SyncReport) error {
	if !caseHandled[entry.LoanID] {
		days := DaysOverdue(entry.DueDate, now)
		if err := m.upsertCase(orgID, entry.LoanID, BucketForDays(days), now, report); err != nil {
			return err
		}
		caseHandled[entry.LoanID] = true
	}

	if err := m.storage.UpdateEntryStatus(entry.ID, models.EntryStatusOverdue); err != nil {
		return err
	}
	report.EntriesFlagged++
	return nil
}

func (m *Manager) upsertCase(orgID, loanID uuid.UUID, bucket models.AgingBucket, now time.Time, report *SyncReport) error {
	existing, err := m.storage.GetCaseForLoan(orgID, loanID)
	switch {
	case err == nil:
		return m.refreshBucket(existing, bucket, now, report)
	case errors.Is(err, store.ErrCaseNotFound):
		created, err := m.storage.InsertCaseIfAbsent(&models.CollectionCase{
			ID:             uuid.New(),
			OrganizationID: orgID,
			LoanID:         loanID,
			Status:         models.CaseStatusActive,
			AgingBucket:    bucket,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		if created {
			report.CasesCreated++
			return nil
		}
		// A concurrent scan got there first; fall back to refreshing it.
		existing, err := m.storage.GetCaseForLoan(orgID, loanID)
		if err != nil {
			return err
		}
		return m.refreshBucket(existing, bucket, now, report)
	default:
		return err
	}
}

// refreshBucket re-ages a case. Recovered cases are left untouched: re-opening
// a recovered case on a fresh default belongs to a separate workflow, not the
// scan. Escalated cases do keep re-aging so they stay ranked correctly.
func (m *Manager) refreshBucket(c *models.CollectionCase, bucket models.AgingBucket, now time.Time, report *SyncReport) error {
	if c.Status == models.CaseStatusRecovered {
		return nil
	}
	if err := m.storage.UpdateCaseBucket(c.ID, bucket, now); err != nil {
		return err
	}
	report.CasesUpdated++
	return nil
}

// AssignAgent sets the collections agent on a case.
func (m *Manager) AssignAgent(caseID, agentID uuid.UUID) error {
	if err := m.storage.UpdateCaseAgent(caseID, agentID, m.now()); err != nil {
		return fmt.Errorf("failed to assign agent to case %s: %w", caseID, err)
	}
	return nil
}

// UpdateCaseStatus sets a case's status. Any transition is allowed; only the
// target value is checked.
func (m *Manager) UpdateCaseStatus(caseID uuid.UUID, status models.CaseStatus) error {
	switch status {
	case models.CaseStatusPending, models.CaseStatusActive, models.CaseStatusRecovered, models.CaseStatusEscalated:
	default:
		return fmt.Errorf("unknown case status %q", status)
	}
	if err := m.storage.UpdateCaseStatus(caseID, status, m.now()); err != nil {
		return fmt.Errorf("failed to update status of case %s: %w", caseID, err)
	}
	return nil
}

// GetCase retrieves a single collection case.
func (m *Manager) GetCase(caseID uuid.UUID) (*models.CollectionCase, error) {
	return m.storage.GetCase(caseID)
}

// CasesForOrganization lists the organization's collection cases.
func (m *Manager) CasesForOrganization(orgID uuid.UUID) ([]*models.CollectionCase, error) {
	return m.storage.GetCasesByOrganization(orgID)
}
