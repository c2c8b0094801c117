package service

import (
	"context"
	"time"

	"dukapos/internal/domain"
	"dukapos/internal/report/export"
)

// ProfitLoss builds the report for [from, to]. Zero dates fall back to the
// last seven days.
func (s *Service) ProfitLoss(ctx context.Context, from time.Time, to time.Time) (domain.ProfitLossReport, error) {
	defaultFrom, defaultTo := s.reports.DefaultRange()
	if from.IsZero() {
		from = defaultFrom
	}
	if to.IsZero() {
		to = defaultTo
	}
	return s.reports.Generate(ctx, from, to)
}

func (s *Service) ExportProfitLossCSV(ctx context.Context, from time.Time, to time.Time) (export.Document, error) {
	report, err := s.ProfitLoss(ctx, from, to)
	if err != nil {
		return export.Document{}, err
	}
	return s.exporter.CSV(report)
}

func (s *Service) ExportProfitLossPDF(ctx context.Context, from time.Time, to time.Time) (export.Document, error) {
	report, err := s.ProfitLoss(ctx, from, to)
	if err != nil {
		return export.Document{}, err
	}
	return s.exporter.PDF(ctx, report)
}
