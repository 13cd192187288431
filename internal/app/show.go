package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

// Show prints recent curtailment records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	records, closeSink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		return errors.New("database not configured; cannot show records")
	}
	defer closeSink()

	rows, err := records.RecentRecords(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Period\tDeclared MW\tResolved MW\tDelta MW\tEnergy MWh\tCost GBP")

	for _, rec := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.PeriodTime.Format(time.RFC3339),
			formatFloat(rec.LevelFPNMW),
			formatFloat(rec.LevelAfterMW),
			formatFloat(rec.DeltaMW),
			formatFloat(rec.EnergyMWh),
			rec.CostGBP.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
