package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/storage"
)

// Export renders the ledger as CSV and/or a PNG trend chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if len(opts.Grades) == 0 {
		opts.Grades = fuel.Columns
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	ledger, closeLedger, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	defer closeLedger()

	all, err := ledger.OrderedByDate(ctx, -1)
	if err != nil {
		return err
	}

	records, err := filterWindow(all, opts.From, opts.To)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting ledger")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled, opts.Grades); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled, opts.Grades); err != nil {
			return err
		}
	}

	return nil
}

// filterWindow keeps records whose date lies in [from, to]; records are oldest first.
func filterWindow(records []storage.Record, from, to *time.Time) ([]storage.Record, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, errors.New("from must not be after to")
	}

	out := make([]storage.Record, 0, len(records))
	for _, r := range records {
		if from != nil && r.Date.Before(storage.Day(*from)) {
			continue
		}
		if to != nil && r.Date.After(storage.Day(*to)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func downsampleRecords(records []storage.Record, max int) []storage.Record {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.Record, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.Record, grades []fuel.Column) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"id", "date"}
	for _, g := range grades {
		header = append(header, string(g))
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{strconv.FormatInt(r.ID, 10), r.DateKey()}
		for _, g := range grades {
			v, ok := r.Price(g)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, v.String())
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.Record, grades []fuel.Column) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, len(grades))
	for _, g := range grades {
		x := make([]time.Time, 0, len(records))
		y := make([]float64, 0, len(records))
		for _, r := range records {
			v, ok := r.Price(g)
			if !ok {
				continue
			}
			x = append(x, r.Date)
			y = append(y, v.InexactFloat64()/10)
		}
		if len(x) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: g.Label(), XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("need at least two points for one grade to draw a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (c/L)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
