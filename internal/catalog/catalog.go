// Package catalog loads product catalogs from YAML files and imports them
// through the product service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"dukapos/internal/domain"
)

type File struct {
	Products []Entry `yaml:"products"`
}

// Entry prices are kept as strings so YAML floats never round through float64.
type Entry struct {
	Name         string `yaml:"name"`
	Category     string `yaml:"category"`
	Description  string `yaml:"description"`
	CostPrice    string `yaml:"cost_price"`
	SellingPrice string `yaml:"selling_price"`
	Stock        int    `yaml:"stock"`
}

type ProductCreator interface {
	ListProducts(ctx context.Context, search string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error)
}

type Result struct {
	Created int
	Skipped int
}

func LoadFile(path string) ([]domain.ProductCreateRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) ([]domain.ProductCreateRequest, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse catalog: empty document")
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	requests := make([]domain.ProductCreateRequest, 0, len(file.Products))
	for i, entry := range file.Products {
		req, err := entry.request()
		if err != nil {
			return nil, fmt.Errorf("parse catalog: product %d: %w", i+1, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (e Entry) request() (domain.ProductCreateRequest, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return domain.ProductCreateRequest{}, fmt.Errorf("name is required")
	}
	cost, err := decimal.NewFromString(strings.TrimSpace(e.CostPrice))
	if err != nil {
		return domain.ProductCreateRequest{}, fmt.Errorf("%s: invalid cost_price %q", name, e.CostPrice)
	}
	selling, err := decimal.NewFromString(strings.TrimSpace(e.SellingPrice))
	if err != nil {
		return domain.ProductCreateRequest{}, fmt.Errorf("%s: invalid selling_price %q", name, e.SellingPrice)
	}
	return domain.ProductCreateRequest{
		Name:         name,
		CostPrice:    cost,
		SellingPrice: selling,
		Stock:        e.Stock,
		Category:     strings.TrimSpace(e.Category),
		Description:  strings.TrimSpace(e.Description),
	}, nil
}

// Import creates every product whose name is not already in the catalog.
// It stops at the first rejected product; earlier products stay created.
func Import(ctx context.Context, creator ProductCreator, requests []domain.ProductCreateRequest, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	existing, err := creator.ListProducts(ctx, "")
	if err != nil {
		return Result{}, fmt.Errorf("list products: %w", err)
	}
	names := make(map[string]struct{}, len(existing))
	for _, product := range existing {
		names[strings.ToLower(product.Name)] = struct{}{}
	}

	var result Result
	for _, req := range requests {
		key := strings.ToLower(req.Name)
		if _, ok := names[key]; ok {
			result.Skipped++
			logger.Debug("catalog product exists", zap.String("name", req.Name))
			continue
		}
		product, err := creator.CreateProduct(ctx, req)
		if err != nil {
			return result, fmt.Errorf("create %q: %w", req.Name, err)
		}
		names[key] = struct{}{}
		result.Created++
		logger.Info("catalog product created", zap.Int64("product_id", product.ID), zap.String("name", product.Name))
	}
	return result, nil
}
