package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

type (
	TransactionType string

	Date struct {
		time.Time
	}

	// Transaction is either an expense or an income, discriminated by Type.
	// Income always carries the FundsAdded category.
	Transaction struct {
		ID          string          `json:"id"`
		Type        TransactionType `json:"type"`
		Name        string          `json:"name"`
		Date        Date            `json:"date"`
		Amount      Money           `json:"amount"`
		Description string          `json:"description,omitempty"`
		Category    Category        `json:"category"`
		CreatedAt   time.Time       `json:"createdAt"`
	}

	// NewExpense is the caller-supplied part of an expense; the store assigns
	// identity and ordering.
	NewExpense struct {
		Name        string
		Amount      Money
		Category    Category
		Date        Date
		Description string
	}
)

var (
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidType          = errors.New("invalid transaction type")
	ErrEmptyName            = errors.New("empty name")
	ErrNameLength           = errors.New("name must be between 2 and 100 characters")
	ErrDescriptionTooLong   = errors.New("description too long (max 500 characters)")
	ErrIncomeCategory       = errors.New("expenses cannot use the Funds Added category")
	ErrIncomeNeedsSentinel  = errors.New("income must use the Funds Added category")
	ErrEmptyTransactionID   = errors.New("empty transaction id")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

const (
	minNameLen        = 2
	maxNameLen        = 100
	maxDescriptionLen = 500
)

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string. A trailing time component is ignored.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t TransactionType) Valid() bool {
	return t == TypeExpense || t == TypeIncome
}

func (e NewExpense) Validate() error {
	if err := validateName(e.Name); err != nil {
		return err
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(e.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	if e.Category == FundsAdded {
		return ErrIncomeCategory
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, e.Category)
	}
	return nil
}

// Validate checks the invariants of a stored transaction, including the
// category rule that ties the sentinel category to income.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTransactionID
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(t.Description) > maxDescriptionLen {
		return ErrDescriptionTooLong
	}
	switch t.Type {
	case TypeExpense:
		if t.Category == FundsAdded {
			return ErrIncomeCategory
		}
		if !t.Category.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, t.Category)
		}
	case TypeIncome:
		if t.Category != FundsAdded {
			return ErrIncomeNeedsSentinel
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	return nil
}

func (t Transaction) IsExpense() bool {
	return t.Type == TypeExpense
}

// SignedAmount is the transaction's effect on the balance.
func (t Transaction) SignedAmount() Money {
	if t.IsExpense() {
		return t.Amount.Neg()
	}
	return t.Amount
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return ErrNameLength
	}
	return nil
}
