package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"wind-curtailment-monitor/internal/curtailment"
	"wind-curtailment-monitor/internal/sink"
)

// Export renders persisted curtailment records as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	records, closeSink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeSink()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * curtailment.SettlementPeriod)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := records.RecordsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	downsampled := downsampleRecords(rows, opts.MaxPoints)
	a.Logger.Info().Int("total", len(rows)).Int("exported", len(downsampled)).Msg("exporting records")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []sink.CurtailmentRecord, max int) []sink.CurtailmentRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]sink.CurtailmentRecord, 0, max)
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

func writeRecordsCSV(path string, records []sink.CurtailmentRecord) error {
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

	header := []string{"period_ts", "level_fpn_mw", "level_boal_mw", "level_after_boal_mw", "delta_mw", "energy_mwh", "cost_gbp"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.PeriodTime.Format(time.RFC3339),
			formatFloat(rec.LevelFPNMW),
			formatFloat(rec.LevelBOALMW),
			formatFloat(rec.LevelAfterMW),
			formatFloat(rec.DeltaMW),
			formatFloat(rec.EnergyMWh),
			rec.CostGBP.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []sink.CurtailmentRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	declared := make([]float64, len(records))
	resolved := make([]float64, len(records))
	cost := make([]float64, len(records))

	for i, rec := range records {
		x[i] = rec.PeriodTime
		declared[i] = rec.LevelFPNMW
		resolved[i] = rec.LevelAfterMW
		cost[i] = rec.CostGBP.InexactFloat64()
	}

	mwFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Output (MW)",
			ValueFormatter: mwFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cost (GBP)",
			ValueFormatter: mwFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Declared",
				XValues: x,
				YValues: declared,
			},
			chart.TimeSeries{
				Name:    "Resolved",
				XValues: x,
				YValues: resolved,
			},
			chart.TimeSeries{
				Name:    "Curtailment cost",
				XValues: x,
				YValues: cost,
				YAxis:   chart.YAxisSecondary,
			},
		},
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
