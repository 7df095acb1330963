package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusClosed    LoanStatus = "closed"
	LoanStatusDefaulted LoanStatus = "defaulted"
)

// Loan is a lending agreement. Monetary amounts are in minor currency units
// (cents); rates stay decimal so rounding happens where we choose.
type Loan struct {
	ID                uuid.UUID       `json:"id"`
	OrganizationID    uuid.UUID       `json:"organization_id"`
	CustomerKey       string          `json:"customer_key"` // Link to external customer system
	Principal         int64           `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"` // e.g. 12.0 means 12%/year
	TermMonths        int             `json:"term_months"`
	StartDate         time.Time       `json:"start_date"`
	Status            LoanStatus      `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusPaid    EntryStatus = "paid"
	EntryStatusOverdue EntryStatus = "overdue"
)

// ScheduleEntry is one installment of a loan's repayment schedule. Entries are
// immutable after generation except for Status.
type ScheduleEntry struct {
	ID                    uuid.UUID   `json:"id"`
	LoanID                uuid.UUID   `json:"loan_id"`
	Sequence              int         `json:"sequence"` // 1..TermMonths
	DueDate               time.Time   `json:"due_date"`
	AmountDue             int64       `json:"amount_due"` // PrincipalDue + InterestDue
	PrincipalDue          int64       `json:"principal_due"`
	InterestDue           int64       `json:"interest_due"`
	RemainingBalanceAfter int64       `json:"remaining_balance_after"`
	Status                EntryStatus `json:"status"`
}

type CaseStatus string

const (
	CaseStatusPending   CaseStatus = "pending"
	CaseStatusActive    CaseStatus = "active"
	CaseStatusRecovered CaseStatus = "recovered"
	CaseStatusEscalated CaseStatus = "escalated"
)

type AgingBucket string

const (
	Bucket0To30  AgingBucket = "0-30"
	Bucket31To60 AgingBucket = "31-60"
	Bucket61To90 AgingBucket = "61-90"
	Bucket90Plus AgingBucket = "90+"
)

// CollectionCase tracks the recovery effort for a loan with overdue
// installments. At most one case exists per loan within an organization.
type CollectionCase struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	LoanID         uuid.UUID   `json:"loan_id"`
	Status         CaseStatus  `json:"status"`
	AgingBucket    AgingBucket `json:"aging_bucket"`
	AgentID        *uuid.UUID  `json:"agent_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDisbursement TransactionType = "disbursement"
	TransactionTypePayment      TransactionType = "payment"
)

type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	Amount    int64           `json:"amount"`
	Type      TransactionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}
