package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"cellstock/backend/internal/domain"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ProductID: strings.TrimSpace(req.ProductID),
		Type:      strings.TrimSpace(req.Type),
		Name:      strings.TrimSpace(req.Name),
		Image:     strings.TrimSpace(req.Image),
		CreatedAt: s.now(),
	}
	if product.ProductID == "" || product.Type == "" || product.Name == "" {
		return domain.Product{}, domain.Validationf("product id, type and name are required")
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, storageErr(err)
	}
	s.audit(ctx, "product_create", "product", created.ProductID)
	return *created, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, storageErr(err)
	}
	return products, nil
}

// FindProduct resolves a catalog entry, going through the product cache.
// Cache failures only cost a repository read.
func (s *Service) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, domain.Validationf("product id is required")
	}

	cached, ok, err := s.cache.Get(ctx, productID)
	if err != nil {
		log.Warn().Err(err).Str("product_id", productID).Msg("product cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, storageErr(err)
	}
	if err := s.cache.Set(ctx, product, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("product_id", productID).Msg("product cache write failed")
	}
	return *product, nil
}
