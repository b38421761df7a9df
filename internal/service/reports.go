package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"warungpos/internal/domain"
	"warungpos/internal/xid"
)

const (
	BucketDay   = "day"
	BucketWeek  = "week"
	BucketMonth = "month"

	defaultReportDays = 7
	maxReportDays     = 366
)

// BucketStart returns the first instant of the bucket containing t, in loc.
// Weeks start on Monday.
func BucketStart(t time.Time, bucket string, loc *time.Location) time.Time {
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	switch bucket {
	case BucketWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BucketMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return day
	}
}

func (s *Service) SalesSummary(ctx context.Context, from string, to string, bucket string) (domain.SalesSummaryReport, error) {
	bucket = strings.ToLower(strings.TrimSpace(bucket))
	if bucket == "" {
		bucket = BucketDay
	}
	if bucket != BucketDay && bucket != BucketWeek && bucket != BucketMonth {
		return domain.SalesSummaryReport{}, invalid("bucket must be day, week or month")
	}
	start, end, err := s.reportRange(from, to)
	if err != nil {
		return domain.SalesSummaryReport{}, err
	}

	key := fmt.Sprintf("sales:%s:%s:%s", start.Format(time.DateOnly), end.Format(time.DateOnly), bucket)
	return cachedReport(ctx, s, key, func() (domain.SalesSummaryReport, error) {
		txs, err := s.repo.ListTransactions(ctx, start, end, domain.PaymentPaid, 0)
		if err != nil {
			return domain.SalesSummaryReport{}, err
		}

		rows := make(map[string]*domain.SalesSummaryRow)
		report := domain.SalesSummaryReport{
			From:   start.Format(time.DateOnly),
			To:     end.AddDate(0, 0, -1).Format(time.DateOnly),
			Bucket: bucket,
			Totals: domain.SalesSummaryRow{Period: "total"},
		}
		for _, tx := range txs {
			period := BucketStart(tx.CreatedAt, bucket, s.location).Format(time.DateOnly)
			row, ok := rows[period]
			if !ok {
				row = &domain.SalesSummaryRow{Period: period}
				rows[period] = row
			}
			addSale(row, tx)
			addSale(&report.Totals, tx)
		}

		report.Rows = make([]domain.SalesSummaryRow, 0, len(rows))
		for _, row := range rows {
			report.Rows = append(report.Rows, *row)
		}
		slices.SortFunc(report.Rows, func(a, b domain.SalesSummaryRow) int {
			return strings.Compare(a.Period, b.Period)
		})
		return report, nil
	})
}

func addSale(row *domain.SalesSummaryRow, tx domain.Transaction) {
	row.Transactions++
	row.GrossSalesCents += tx.SubtotalCents
	row.DiscountCents += tx.DiscountCents
	row.TaxCents += tx.TaxCents
	row.DeliveryFeeCents += tx.DeliveryFeeCents
	row.GrandTotalCents += tx.GrandTotalCents
}

// ProfitLoss reports revenue net of discount against the cost snapshot taken
// at sale time. Operational expense is supplied by the caller.
func (s *Service) ProfitLoss(ctx context.Context, from string, to string, operationalExpenseCents int64) (domain.ProfitLossReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ProfitLossReport{}, err
	}
	if operationalExpenseCents < 0 {
		return domain.ProfitLossReport{}, invalid("operational expense must not be negative")
	}
	start, end, err := s.reportRange(from, to)
	if err != nil {
		return domain.ProfitLossReport{}, err
	}

	key := fmt.Sprintf("pnl:%s:%s:%d", start.Format(time.DateOnly), end.Format(time.DateOnly), operationalExpenseCents)
	return cachedReport(ctx, s, key, func() (domain.ProfitLossReport, error) {
		txs, err := s.repo.ListTransactions(ctx, start, end, domain.PaymentPaid, 0)
		if err != nil {
			return domain.ProfitLossReport{}, err
		}

		report := domain.ProfitLossReport{
			From:                    start.Format(time.DateOnly),
			To:                      end.AddDate(0, 0, -1).Format(time.DateOnly),
			OperationalExpenseCents: operationalExpenseCents,
		}
		for _, tx := range txs {
			report.Transactions++
			report.RevenueCents += tx.SubtotalCents - tx.DiscountCents
			for _, line := range tx.Lines {
				report.COGSCents += line.CostCents * int64(line.Qty)
			}
		}
		report.GrossProfitCents = report.RevenueCents - report.COGSCents
		report.NetProfitCents = report.GrossProfitCents - report.OperationalExpenseCents
		return report, nil
	})
}

func (s *Service) InventoryStatus(ctx context.Context) (domain.InventoryStatusReport, error) {
	return cachedReport(ctx, s, "inventory", func() (domain.InventoryStatusReport, error) {
		items, err := s.repo.ListItems(ctx)
		if err != nil {
			return domain.InventoryStatusReport{}, err
		}

		report := domain.InventoryStatusReport{
			GeneratedAt: s.now().In(s.location).Format(time.RFC3339),
			Items:       make([]domain.InventoryStatusLine, 0, len(items)),
		}
		for _, item := range items {
			line := domain.InventoryStatusLine{
				ItemID:   item.ID,
				SKU:      item.SKU,
				Name:     item.Name,
				Category: item.Category,
				Stock:    item.Stock,
				MinStock: item.MinStock,
				LowStock: item.Stock <= item.MinStock,
			}
			if item.Stock > 0 {
				line.StockValueCents = int64(item.Stock) * item.CostCents
			}
			if line.LowStock {
				report.LowStockCount++
			}
			report.TotalStockValueCents += line.StockValueCents
			report.Items = append(report.Items, line)
		}
		report.TotalItems = len(report.Items)
		return report, nil
	})
}

// reportRange resolves an inclusive [from, to] date pair into a half-open
// time range in the report location.
func (s *Service) reportRange(from string, to string) (time.Time, time.Time, error) {
	today := BucketStart(s.now(), BucketDay, s.location)

	end := today
	if strings.TrimSpace(to) != "" {
		day, err := s.parseDay(to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = day
	}
	start := end.AddDate(0, 0, -(defaultReportDays - 1))
	if strings.TrimSpace(from) != "" {
		day, err := s.parseDay(from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = day
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, invalid("from must not be after to")
	}
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return time.Time{}, time.Time{}, invalid("report range is limited to %d days", maxReportDays)
	}
	return start, end.AddDate(0, 0, 1), nil
}

// reportGenerationKey holds the current report generation. Every cached
// report key carries it, so moving to a new generation drops all of them.
const reportGenerationKey = "generation"

// invalidateReports starts a new report generation after sales or stock
// changed. Reports cached under the old one age out with their TTL.
func (s *Service) invalidateReports(ctx context.Context) {
	if s.reportTTL <= 0 {
		return
	}
	if err := s.reports.Set(ctx, reportGenerationKey, []byte(xid.New("gen")), 0); err != nil {
		log.Printf("[service] WARN: report cache invalidate: %v", err)
	}
}

func (s *Service) reportGeneration(ctx context.Context) string {
	raw, ok, err := s.reports.Get(ctx, reportGenerationKey)
	if err != nil {
		log.Printf("[service] WARN: report cache generation: %v", err)
		return ""
	}
	if !ok {
		return "0"
	}
	return string(raw)
}

// cachedReport serves a report from the cache when present. Cache failures
// are logged and the report is computed directly.
func cachedReport[T any](ctx context.Context, s *Service, key string, build func() (T, error)) (T, error) {
	if s.reportTTL > 0 {
		generation := s.reportGeneration(ctx)
		if generation == "" {
			return build()
		}
		key = generation + ":" + key
		if raw, ok, err := s.reports.Get(ctx, key); err != nil {
			log.Printf("[service] WARN: report cache get %s: %v", key, err)
		} else if ok {
			var cached T
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	report, err := build()
	if err != nil {
		return report, err
	}
	if s.reportTTL > 0 {
		if payload, err := json.Marshal(report); err == nil {
			if err := s.reports.Set(ctx, key, payload, s.reportTTL); err != nil {
				log.Printf("[service] WARN: report cache set %s: %v", key, err)
			}
		}
	}
	return report, nil
}
