// Package amortize computes French (constant-installment) repayment schedules
// and late-payment penalties. Everything here is pure computation: no clock,
// no storage, safe to call from any goroutine.
package amortize

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTerms is wrapped by every input-validation failure.
var ErrInvalidTerms = errors.New("invalid loan terms")

// DefaultDailyPenaltyRatePercent is the standard daily penalty rate (0.05%/day).
var DefaultDailyPenaltyRatePercent = decimal.NewFromFloat(0.05)

var (
	hundred       = decimal.NewFromInt(100)
	monthsPerYear = decimal.NewFromInt(12)
)

// Installment is one period of a computed schedule. Amounts are minor
// currency units.
type Installment struct {
	Sequence              int       `json:"sequence"`
	DueDate               time.Time `json:"due_date"`
	AmountDue             int64     `json:"amount_due"`
	PrincipalDue          int64     `json:"principal_due"`
	InterestDue           int64     `json:"interest_due"`
	RemainingBalanceAfter int64     `json:"remaining_balance_after"`
}

func validate(principal int64, annualRatePercent decimal.Decimal, termMonths int) error {
	if principal < 0 {
		return fmt.Errorf("%w: principal must not be negative, got %d", ErrInvalidTerms, principal)
	}
	if termMonths < 1 {
		return fmt.Errorf("%w: term must be at least 1 month, got %d", ErrInvalidTerms, termMonths)
	}
	if annualRatePercent.IsNegative() {
		return fmt.Errorf("%w: annual rate must not be negative, got %s", ErrInvalidTerms, annualRatePercent)
	}
	return nil
}

// MonthlyPayment returns the constant installment that repays principal with
// interest over termMonths periods at annualRatePercent. The result is rounded
// up to the next minor unit so the lender is never short across the schedule.
func MonthlyPayment(principal int64, annualRatePercent decimal.Decimal, termMonths int) (int64, error) {
	if err := validate(principal, annualRatePercent, termMonths); err != nil {
		return 0, err
	}

	if annualRatePercent.IsZero() {
		// Equal principal-only installments.
		payment := principal / int64(termMonths)
		if principal%int64(termMonths) != 0 {
			payment++
		}
		return payment, nil
	}

	// payment = r*P / (1 - (1+r)^-n). The fractional power is computed in
	// float64; the inputs are small enough that the error stays far below
	// half a minor unit.
	monthlyRate, _ := annualRatePercent.Div(monthsPerYear).Div(hundred).Float64()
	n := float64(termMonths)
	payment := monthlyRate * float64(principal) / (1 - math.Pow(1+monthlyRate, -n))
	return int64(math.Ceil(payment)), nil
}

// Schedule generates the full amortization schedule: exactly termMonths
// installments with due dates advanced by whole calendar months from
// startDate. Per-period interest is rounded to the nearest minor unit; the
// final period's principal is forced to the remaining balance so the loan
// zeroes out exactly regardless of rounding drift in earlier periods.
func Schedule(principal int64, annualRatePercent decimal.Decimal, termMonths int, startDate time.Time) ([]Installment, error) {
	payment, err := MonthlyPayment(principal, annualRatePercent, termMonths)
	if err != nil {
		return nil, err
	}

	monthlyRate := annualRatePercent.Div(monthsPerYear).Div(hundred)
	schedule := make([]Installment, 0, termMonths)
	balance := principal

	for i := 1; i <= termMonths; i++ {
		interest := decimal.NewFromInt(balance).Mul(monthlyRate).Round(0).IntPart()
		principalDue := payment - interest
		if i == termMonths {
			principalDue = balance
		}

		remaining := balance - principalDue
		if remaining < 0 {
			remaining = 0
		}

		schedule = append(schedule, Installment{
			Sequence:              i,
			DueDate:               startDate.AddDate(0, i, 0),
			AmountDue:             principalDue + interest,
			PrincipalDue:          principalDue,
			InterestDue:           interest,
			RemainingBalanceAfter: remaining,
		})
		balance = remaining
	}

	return schedule, nil
}

// Penalty returns the linear late-payment penalty for an installment that is
// daysOverdue late: amountDue * dailyRatePercent/100 * daysOverdue, rounded to
// the nearest minor unit. Not compounding and not capped; callers needing a
// ceiling apply it themselves. Zero for anything not yet past due.
func Penalty(amountDue int64, daysOverdue int, dailyRatePercent decimal.Decimal) int64 {
	if daysOverdue <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountDue).
		Mul(dailyRatePercent).Div(hundred).
		Mul(decimal.NewFromInt(int64(daysOverdue))).
		Round(0).IntPart()
}
