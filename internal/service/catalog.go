package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

var (
	minPrice = decimal.RequireFromString("0.01")
	maxPrice = decimal.NewFromInt(100000)
)

func (s *Service) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, domain.ProductFilter{Search: strings.TrimSpace(search)})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id < 1 {
		return domain.Product{}, &store.ProductNotFoundError{ProductID: id}
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if err := validatePrices(req.CostPrice, req.SellingPrice); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:         req.Name,
		CostPrice:    req.CostPrice.Round(domain.MoneyScale),
		SellingPrice: req.SellingPrice.Round(domain.MoneyScale),
		Stock:        req.Stock,
		Category:     req.Category,
		Description:  req.Description,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

// UpdateProduct applies the editable fields. Description is kept as stored.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if err := s.validate.StructCtx(ctx, req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	if err := validatePrices(req.CostPrice, req.SellingPrice); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	existing.Name = req.Name
	existing.CostPrice = req.CostPrice.Round(domain.MoneyScale)
	existing.SellingPrice = req.SellingPrice.Round(domain.MoneyScale)
	existing.Stock = req.Stock
	existing.Category = req.Category

	saved, err := s.repo.UpdateProduct(ctx, existing)
	if err != nil {
		return domain.Product{}, err
	}

	// Cost edits move historical profit, so cached reports are stale.
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Int64("product_id", saved.ID), zap.Error(err))
	}
	return *saved, nil
}

func validatePrices(cost decimal.Decimal, selling decimal.Decimal) error {
	if cost.LessThan(minPrice) || cost.GreaterThan(maxPrice) {
		return fmt.Errorf("%w: cost price must be between %s and %s", store.ErrInvalidInput, minPrice, maxPrice)
	}
	if selling.LessThan(minPrice) || selling.GreaterThan(maxPrice) {
		return fmt.Errorf("%w: selling price must be between %s and %s", store.ErrInvalidInput, minPrice, maxPrice)
	}
	return nil
}
