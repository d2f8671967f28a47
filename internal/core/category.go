package core

import (
	"errors"
	"fmt"
	"strings"
)

// Category is drawn from a fixed vocabulary. FundsAdded is reserved for income.
type Category string

const (
	Groceries        Category = "Groceries"
	Housing          Category = "Housing"
	Utilities        Category = "Utilities"
	Transport        Category = "Transport"
	FoodAndDining    Category = "Food & Dining"
	Entertainment    Category = "Entertainment"
	Healthcare       Category = "Healthcare"
	Shopping         Category = "Shopping"
	Education        Category = "Education"
	Travel           Category = "Travel"
	PersonalCare     Category = "Personal Care"
	GiftsAndDonation Category = "Gifts & Donations"
	Subscriptions    Category = "Subscriptions"
	FundsAdded       Category = "Funds Added"
	Other            Category = "Other"
)

var ErrUnknownCategory = errors.New("unknown category")

var categories = []Category{
	Groceries,
	Housing,
	Utilities,
	Transport,
	FoodAndDining,
	Entertainment,
	Healthcare,
	Shopping,
	Education,
	Travel,
	PersonalCare,
	GiftsAndDonation,
	Subscriptions,
	FundsAdded,
	Other,
}

// Categories returns the full vocabulary in display order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// ExpenseCategories returns every category an expense may use.
func ExpenseCategories() []Category {
	out := make([]Category, 0, len(categories)-1)
	for _, c := range categories {
		if c != FundsAdded {
			out = append(out, c)
		}
	}
	return out
}

// ParseCategory matches s against the vocabulary, ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range categories {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

func (c Category) IsExpense() bool {
	return c != FundsAdded && c.Valid()
}

func (c Category) String() string {
	return string(c)
}
