package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/backoffice/internal/expenses"
)

// Summary aggregates all sales and expenses as of now. Daily and weekly sales
// use now's location; weeks start on Monday.
func (s *Service) Summary(ctx context.Context, now time.Time) (Summary, error) {
	var (
		sales        []Sale
		spent        []expenses.Expense
		productCount int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListSales(gctx, Filter{})
		return err
	})
	g.Go(func() error {
		if s.expenses == nil {
			return nil
		}
		var err error
		spent, err = s.expenses.List(gctx, expenses.Filter{})
		return err
	})
	g.Go(func() error {
		var err error
		productCount, err = s.repo.CountProducts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summarize(sales, spent, productCount, now), nil
}

func summarize(sales []Sale, spent []expenses.Expense, productCount int, now time.Time) Summary {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(dayStart.Weekday()) + 6) % 7
	weekStart := dayStart.AddDate(0, 0, -offset)

	sum := Summary{
		TotalSales:    decimal.Zero,
		TotalCOGS:     decimal.Zero,
		TotalExpenses: expenses.Total(spent),
		DailySales:    decimal.Zero,
		WeeklySales:   decimal.Zero,
		SalesCount:    len(sales),
		ProductCount:  productCount,
	}
	for _, sale := range sales {
		sum.TotalSales = sum.TotalSales.Add(sale.Total)
		sum.TotalCOGS = sum.TotalCOGS.Add(sale.COGS)
		at := sale.CreatedAt.In(now.Location())
		if !at.Before(dayStart) {
			sum.DailySales = sum.DailySales.Add(sale.Total)
		}
		if !at.Before(weekStart) {
			sum.WeeklySales = sum.WeeklySales.Add(sale.Total)
		}
	}
	sum.GrossProfit = sum.TotalSales.Sub(sum.TotalCOGS)
	sum.NetProfit = sum.GrossProfit.Sub(sum.TotalExpenses)
	return sum
}
