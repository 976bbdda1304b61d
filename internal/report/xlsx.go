// Package report renders trend leaderboards for download.
package report

import (
	"fmt"
	"io"

	"github.com/sellerpulse/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

const SheetName = "Trending"

var header = []string{
	"Rank", "Item ID", "Title", "Trend Score", "View Growth %", "Watch Growth %",
	"Price Momentum %", "7d Avg Views", "7d Avg Watches", "Trending",
}

// WriteTrending streams rows as an XLSX workbook to w. Rows are expected in
// rank order with their listings preloaded.
func WriteTrending(w io.Writer, rows []models.TrendScore) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetColWidth(3, 3, 48); err != nil {
		return err
	}

	head := make([]interface{}, len(header))
	for i, h := range header {
		head[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		rank := ""
		if r.Rank != nil {
			rank = fmt.Sprint(*r.Rank)
		}
		itemID, title := "", ""
		if r.Listing != nil {
			itemID, title = r.Listing.ExternalItemID, r.Listing.Title
		}
		trending := ""
		if r.IsTrending {
			trending = "yes"
		}
		row := []interface{}{
			rank, itemID, title, r.Score, r.ViewGrowthRate, r.WatchGrowthRate,
			r.PriceMomentum, r.View7DayAvg, r.Watch7DayAvg, trending,
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
