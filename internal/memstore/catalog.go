package memstore

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"sort"
	"strings"
)

func (s *Store) AddCategory(name string) (catalog.Category, error) {
	slug := catalog.Slugify(name)
	if slug == "" {
		return catalog.Category{}, fmt.Errorf("category %q: empty slug", name)
	}
	s.lockWrite()
	defer s.unlockWrite()
	for _, c := range s.st.categories {
		if c.Slug == slug {
			return catalog.Category{}, fmt.Errorf("category %q already exists", slug)
		}
	}
	s.st.nextCat++
	c := catalog.Category{ID: s.st.nextCat, Name: strings.TrimSpace(name), Slug: slug, IsActive: true}
	s.st.categories[c.ID] = c
	return c, nil
}

// AddProduct stores p with a fresh id. Price and stock must not be negative.
func (s *Store) AddProduct(p catalog.Product) (catalog.Product, error) {
	if p.Price.IsNegative() || p.Stock < 0 {
		return catalog.Product{}, fmt.Errorf("product %q: negative price or stock", p.Name)
	}
	s.lockWrite()
	defer s.unlockWrite()
	if _, ok := s.st.categories[p.CategoryID]; !ok && p.CategoryID != 0 {
		return catalog.Product{}, fmt.Errorf("product %q: unknown category %d", p.Name, p.CategoryID)
	}
	s.st.nextProd++
	p.ID = s.st.nextProd
	p.Name = strings.TrimSpace(p.Name)
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.st.products[p.ID] = p
	return p, nil
}

// UpdateProduct replaces price, stock and active flag of an existing product.
func (s *Store) UpdateProduct(p catalog.Product) error {
	s.lockWrite()
	defer s.unlockWrite()
	cur, ok := s.st.products[p.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	cur.Price, cur.Stock, cur.IsActive = p.Price, p.Stock, p.IsActive
	cur.UpdatedAt = s.now()
	s.st.products[p.ID] = cur
	return nil
}

// Product returns the committed row, active or not.
func (s *Store) Product(id int64) (catalog.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	return p, ok
}

func (s *Store) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Category{}
	for _, c := range s.st.categories {
		if c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListProducts(_ context.Context, categorySlug string) ([]catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []catalog.Product{}
	for _, p := range s.st.products {
		if !p.IsActive {
			continue
		}
		c, ok := s.st.categories[p.CategoryID]
		if ok && !c.IsActive {
			continue
		}
		if categorySlug != "" && (!ok || c.Slug != categorySlug) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	if !ok || !p.IsActive {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}
