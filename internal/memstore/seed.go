package memstore

import (
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/shopspring/decimal"
)

// SeedDemo loads a small catalog so STORE_DRIVER=memory is usable out of the box.
func SeedDemo(s *Store) error {
	electronics, err := s.AddCategory("Electronics")
	if err != nil {
		return err
	}
	books, err := s.AddCategory("Books")
	if err != nil {
		return err
	}
	for _, p := range []catalog.Product{
		{CategoryID: electronics.ID, Name: "Phone", Description: "Smartphone", Price: decimal.RequireFromString("500.00"), Stock: 10, IsActive: true},
		{CategoryID: electronics.ID, Name: "Case", Description: "Phone case", Price: decimal.RequireFromString("20.00"), Stock: 50, IsActive: true},
		{CategoryID: books.ID, Name: "Go in Practice", Description: "Paperback", Price: decimal.RequireFromString("39.90"), Stock: 25, IsActive: true},
	} {
		if _, err := s.AddProduct(p); err != nil {
			return err
		}
	}
	return nil
}
