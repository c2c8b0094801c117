package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/store"
)

// RecordSale validates the cart, decrements stock and persists the sale as
// one unit. Lines are applied in order; a product listed twice is decremented
// once per line, so the later line sees what the earlier one left behind.
func (s *Service) RecordSale(ctx context.Context, req domain.RecordSaleRequest) (domain.RecordSaleResponse, error) {
	if len(req.CartLines) == 0 {
		s.saleFailures.WithLabelValues("empty_cart").Inc()
		return domain.RecordSaleResponse{}, store.ErrEmptyCart
	}

	items := make([]domain.SaleItem, 0, len(req.CartLines))
	for _, line := range req.CartLines {
		if err := validateCartLine(line); err != nil {
			s.saleFailures.WithLabelValues(failureReason(err)).Inc()
			return domain.RecordSaleResponse{}, err
		}
		items = append(items, domain.SaleItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	sale, err := s.repo.CreateSale(ctx, domain.Sale{
		UserID:        s.users.CurrentUserID(ctx),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		SaleDate:      s.now().UTC(),
		Items:         items,
	})
	if err != nil {
		reason := failureReason(err)
		s.saleFailures.WithLabelValues(reason).Inc()
		if reason == "persistence" {
			s.logger.Error("sale persistence failed", zap.Int("lines", len(items)), zap.Error(err))
		} else {
			s.logger.Info("sale rejected", zap.String("reason", reason), zap.Error(err))
		}
		return domain.RecordSaleResponse{}, err
	}

	s.salesRecorded.Inc()
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Int64("sale_id", sale.ID), zap.Error(err))
	}
	s.logger.Info("sale recorded",
		zap.Int64("sale_id", sale.ID),
		zap.String("user_id", sale.UserID),
		zap.Int("lines", len(sale.Items)),
		zap.String("total", sale.Total().StringFixed(domain.MoneyScale)),
	)

	return domain.RecordSaleResponse{SaleID: sale.ID}, nil
}

type cartItemPayload struct {
	ProductID int64           `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// RecordSaleJSON accepts the cart as the JSON array posted by the checkout
// form, e.g. [{"productId":1,"quantity":2,"unitPrice":15.00}].
func (s *Service) RecordSaleJSON(ctx context.Context, customerName string, customerPhone string, cartJSON string) (domain.RecordSaleResponse, error) {
	if strings.TrimSpace(cartJSON) == "" {
		s.saleFailures.WithLabelValues("empty_cart").Inc()
		return domain.RecordSaleResponse{}, store.ErrEmptyCart
	}

	var payload []cartItemPayload
	if err := json.Unmarshal([]byte(cartJSON), &payload); err != nil {
		s.saleFailures.WithLabelValues("invalid_cart").Inc()
		return domain.RecordSaleResponse{}, &store.InvalidCartDataError{Reason: err.Error()}
	}

	lines := make([]domain.CartLine, 0, len(payload))
	for _, item := range payload {
		lines = append(lines, domain.CartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return s.RecordSale(ctx, domain.RecordSaleRequest{
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
		CartLines:     lines,
	})
}

func (s *Service) ListSales(ctx context.Context) (domain.SaleHistoryResponse, error) {
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.SaleHistoryResponse{}, err
	}
	if sales == nil {
		sales = []domain.Sale{}
	}
	return domain.SaleHistoryResponse{Sales: sales}, nil
}

func (s *Service) GetReceipt(ctx context.Context, saleID int64) (domain.Receipt, error) {
	if saleID < 1 {
		return domain.Receipt{}, store.ErrNotFound
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Receipt{}, err
	}

	ids := make([]int64, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Receipt{}, err
	}

	receipt := domain.Receipt{
		SaleID:        sale.ID,
		CustomerName:  sale.CustomerName,
		CustomerPhone: sale.CustomerPhone,
		SaleDate:      sale.SaleDate,
		Lines:         make([]domain.ReceiptLine, 0, len(sale.Items)),
		Total:         decimal.Zero,
	}
	for _, item := range sale.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			ProductID:   item.ProductID,
			ProductName: products[item.ProductID].Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   lineTotal,
		})
		receipt.Total = receipt.Total.Add(lineTotal)
	}
	return receipt, nil
}

// Upper bounds of a cart line, matching the INTEGER quantity and
// NUMERIC(18,2) price columns.
const maxLineQuantity = math.MaxInt32

var maxUnitPrice = decimal.RequireFromString("9999999999999999.99")

func validateCartLine(line domain.CartLine) error {
	if line.Quantity < 1 || line.Quantity > maxLineQuantity {
		return &store.InvalidQuantityError{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	if line.UnitPrice.IsNegative() {
		return &store.InvalidCartDataError{Reason: "unit price must not be negative"}
	}
	if line.UnitPrice.GreaterThan(maxUnitPrice) {
		return &store.InvalidCartDataError{Reason: "unit price exceeds 9999999999999999.99"}
	}
	if !line.UnitPrice.Equal(line.UnitPrice.Round(domain.MoneyScale)) {
		return &store.InvalidCartDataError{Reason: "unit price has more than two decimal places"}
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, store.ErrNotFound):
		return "product_not_found"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid_cart"
	default:
		return "persistence"
	}
}
