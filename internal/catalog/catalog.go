// Package catalog holds the read side of categories and products.
package catalog

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"strings"
	"time"
	"unicode"
)

var ErrNotFound = errors.New("product not found")

type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	IsActive bool   `json:"is_active"`
}

type Product struct {
	ID          int64           `json:"id"`
	CategoryID  int64           `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Reader only ever returns active categories and products.
type Reader interface {
	ListCategories(ctx context.Context) ([]Category, error)
	// ListProducts filters by category slug when it is non-empty.
	ListProducts(ctx context.Context, categorySlug string) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// Slugify trims, lowercases and collapses every run of non-alphanumerics into "-".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
