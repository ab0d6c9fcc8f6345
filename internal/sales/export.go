package sales

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

var exportHeader = []any{"id", "reference", "created_at", "cashier_id", "payment_method", "items", "total", "cogs", "profit"}

// ExportXLSX writes the sales matching filter as a workbook with one row per sale.
// Unlike ListSales the export is not capped; filter.Limit applies only when set.
func (s *Service) ExportXLSX(ctx context.Context, filter Filter, w io.Writer) error {
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Sales"
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return fmt.Errorf("sales export: rename sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("sales export: header: %w", err)
	}
	for i, sale := range sales {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			sale.ID,
			sale.Reference,
			sale.CreatedAt.Format("2006-01-02 15:04:05"),
			sale.CashierID,
			sale.PaymentMethod,
			len(sale.Items),
			sale.Total.InexactFloat64(),
			sale.COGS.InexactFloat64(),
			sale.Profit.InexactFloat64(),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sales export: row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}
