package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Rates are stored as TEXT so no precision is lost; amounts are INTEGER
// minor currency units.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		customer_key TEXT NOT NULL,
		principal INTEGER NOT NULL,
		annual_rate_percent TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_organization ON loans(organization_id);
	CREATE TABLE IF NOT EXISTS schedule_entries (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		amount_due INTEGER NOT NULL,
		principal_due INTEGER NOT NULL,
		interest_due INTEGER NOT NULL,
		remaining_balance_after INTEGER NOT NULL,
		status TEXT NOT NULL,
		UNIQUE(loan_id, sequence),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_status_due ON schedule_entries(status, due_date);
	CREATE TABLE IF NOT EXISTS collection_cases (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		aging_bucket TEXT NOT NULL,
		agent_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(organization_id, loan_id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		type TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (id, organization_id, customer_key, principal, annual_rate_percent, term_months, start_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.OrganizationID.String(), loan.CustomerKey, loan.Principal, loan.AnnualRatePercent.String(), loan.TermMonths, loan.StartDate, loan.Status, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const loanColumns = `id, organization_id, customer_key, principal, annual_rate_percent, term_months, start_date, status, created_at, updated_at`

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET customer_key = ?, principal = ?, annual_rate_percent = ?, term_months = ?, start_date = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.CustomerKey, loan.Principal, loan.AnnualRatePercent.String(), loan.TermMonths, loan.StartDate, loan.Status, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// GetLoansByOrganization retrieves all loans belonging to an organization.
func (s *SQLiteStore) GetLoansByOrganization(orgID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE organization_id = ?`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for organization %s: %w", orgID, err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// ListOrganizations returns every organization that owns at least one loan.
func (s *SQLiteStore) ListOrganizations() ([]uuid.UUID, error) {
	rows, err := s.db.Query(`SELECT DISTINCT organization_id FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("failed to scan organization row: %w", err)
		}
		orgs = append(orgs, uuid.MustParse(idStr))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return orgs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, orgIDStr string
	if err := row.Scan(&loanIDStr, &orgIDStr, &loan.CustomerKey, &loan.Principal, &loan.AnnualRatePercent, &loan.TermMonths, &loan.StartDate, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(loanIDStr)
	loan.OrganizationID = uuid.MustParse(orgIDStr)
	return &loan, nil
}

// CreateScheduleEntries bulk-inserts a generated schedule inside one
// transaction so a loan never persists with a partial schedule.
func (s *SQLiteStore) CreateScheduleEntries(entries []*models.ScheduleEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO schedule_entries (id, loan_id, sequence, due_date, amount_due, principal_due, interest_due, remaining_balance_after, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.Exec(e.ID.String(), e.LoanID.String(), e.Sequence, e.DueDate, e.AmountDue, e.PrincipalDue, e.InterestDue, e.RemainingBalanceAfter, e.Status); err != nil {
			return fmt.Errorf("failed to insert schedule entry %d: %w", e.Sequence, err)
		}
	}

	return tx.Commit()
}

const entryColumns = `id, loan_id, sequence, due_date, amount_due, principal_due, interest_due, remaining_balance_after, status`

// GetScheduleForLoan retrieves a loan's schedule ordered by sequence.
func (s *SQLiteStore) GetScheduleForLoan(loanID uuid.UUID) ([]*models.ScheduleEntry, error) {
	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM schedule_entries WHERE loan_id = ? ORDER BY sequence ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetDuePendingEntries retrieves pending entries due on or before asOf for
// the organization's loans, oldest first.
func (s *SQLiteStore) GetDuePendingEntries(orgID uuid.UUID, asOf time.Time) ([]*models.ScheduleEntry, error) {
	rows, err := s.db.Query(
		`SELECT e.id, e.loan_id, e.sequence, e.due_date, e.amount_due, e.principal_due, e.interest_due, e.remaining_balance_after, e.status
		FROM schedule_entries e
		JOIN loans l ON l.id = e.loan_id
		WHERE l.organization_id = ? AND e.status = ? AND e.due_date <= ?
		ORDER BY e.due_date ASC, e.sequence ASC`,
		orgID.String(), models.EntryStatusPending, asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get due pending entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*models.ScheduleEntry, error) {
	var entries []*models.ScheduleEntry
	for rows.Next() {
		var e models.ScheduleEntry
		var entryIDStr, loanIDStr string
		if err := rows.Scan(&entryIDStr, &loanIDStr, &e.Sequence, &e.DueDate, &e.AmountDue, &e.PrincipalDue, &e.InterestDue, &e.RemainingBalanceAfter, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry row: %w", err)
		}
		e.ID = uuid.MustParse(entryIDStr)
		e.LoanID = uuid.MustParse(loanIDStr)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return entries, nil
}

// UpdateEntryStatus transitions a schedule entry's status.
func (s *SQLiteStore) UpdateEntryStatus(entryID uuid.UUID, status models.EntryStatus) error {
	result, err := s.db.Exec(`UPDATE schedule_entries SET status = ? WHERE id = ?`, status, entryID.String())
	if err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

const caseColumns = `id, organization_id, loan_id, status, aging_bucket, agent_id, created_at, updated_at`

// GetCase retrieves a collection case by its ID.
func (s *SQLiteStore) GetCase(id uuid.UUID) (*models.CollectionCase, error) {
	row := s.db.QueryRow(`SELECT `+caseColumns+` FROM collection_cases WHERE id = ?`, id.String())
	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// GetCaseForLoan retrieves the collection case for a loan within an
// organization, if one exists.
func (s *SQLiteStore) GetCaseForLoan(orgID, loanID uuid.UUID) (*models.CollectionCase, error) {
	row := s.db.QueryRow(`SELECT `+caseColumns+` FROM collection_cases WHERE organization_id = ? AND loan_id = ?`, orgID.String(), loanID.String())
	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("failed to get case for loan %s: %w", loanID, err)
	}
	return c, nil
}

// InsertCaseIfAbsent inserts the case unless one already exists for the same
// (organization, loan). The conflict target is the unique index, which makes
// the insert-if-absent atomic under concurrent scans.
func (s *SQLiteStore) InsertCaseIfAbsent(c *models.CollectionCase) (bool, error) {
	var agentID interface{}
	if c.AgentID != nil {
		agentID = c.AgentID.String()
	}
	result, err := s.db.Exec(
		`INSERT INTO collection_cases (id, organization_id, loan_id, status, aging_bucket, agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, loan_id) DO NOTHING`,
		c.ID.String(), c.OrganizationID.String(), c.LoanID.String(), c.Status, c.AgingBucket, agentID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert case: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdateCaseBucket refreshes a case's aging bucket.
func (s *SQLiteStore) UpdateCaseBucket(id uuid.UUID, bucket models.AgingBucket, updatedAt time.Time) error {
	return s.updateCaseField(`UPDATE collection_cases SET aging_bucket = ?, updated_at = ? WHERE id = ?`, bucket, updatedAt, id)
}

// UpdateCaseStatus sets a case's status.
func (s *SQLiteStore) UpdateCaseStatus(id uuid.UUID, status models.CaseStatus, updatedAt time.Time) error {
	return s.updateCaseField(`UPDATE collection_cases SET status = ?, updated_at = ? WHERE id = ?`, status, updatedAt, id)
}

// UpdateCaseAgent assigns a collections agent to a case.
func (s *SQLiteStore) UpdateCaseAgent(id uuid.UUID, agentID uuid.UUID, updatedAt time.Time) error {
	return s.updateCaseField(`UPDATE collection_cases SET agent_id = ?, updated_at = ? WHERE id = ?`, agentID.String(), updatedAt, id)
}

func (s *SQLiteStore) updateCaseField(query string, value interface{}, updatedAt time.Time, id uuid.UUID) error {
	result, err := s.db.Exec(query, value, updatedAt, id.String())
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// GetCasesByOrganization retrieves all collection cases for an organization.
func (s *SQLiteStore) GetCasesByOrganization(orgID uuid.UUID) ([]*models.CollectionCase, error) {
	rows, err := s.db.Query(`SELECT `+caseColumns+` FROM collection_cases WHERE organization_id = ? ORDER BY created_at ASC`, orgID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get cases for organization %s: %w", orgID, err)
	}
	defer rows.Close()

	var cases []*models.CollectionCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case row: %w", err)
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return cases, nil
}

func scanCase(row rowScanner) (*models.CollectionCase, error) {
	var c models.CollectionCase
	var caseIDStr, orgIDStr, loanIDStr string
	var agentID sql.NullString
	if err := row.Scan(&caseIDStr, &orgIDStr, &loanIDStr, &c.Status, &c.AgingBucket, &agentID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = uuid.MustParse(caseIDStr)
	c.OrganizationID = uuid.MustParse(orgIDStr)
	c.LoanID = uuid.MustParse(loanIDStr)
	if agentID.Valid {
		id := uuid.MustParse(agentID.String)
		c.AgentID = &id
	}
	return &c, nil
}

// CreateTransaction inserts a new transaction into the database.
func (s *SQLiteStore) CreateTransaction(transaction *models.Transaction) error {
	_, err := s.db.Exec(
		`INSERT INTO transactions (id, loan_id, amount, type, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		transaction.ID.String(), transaction.LoanID.String(), transaction.Amount, transaction.Type, transaction.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// GetTransactionsForLoan retrieves all transactions for a given loan ID.
func (s *SQLiteStore) GetTransactionsForLoan(loanID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, amount, type, timestamp FROM transactions WHERE loan_id = ? ORDER BY timestamp ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		var transaction models.Transaction
		var txIDStr, loanIDStr string
		if err := rows.Scan(&txIDStr, &loanIDStr, &transaction.Amount, &transaction.Type, &transaction.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		transaction.ID = uuid.MustParse(txIDStr)
		transaction.LoanID = uuid.MustParse(loanIDStr)
		transactions = append(transactions, &transaction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan transactions: %w", err)
	}
	return transactions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
