package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantcore/tradingcore/pkg/types"
)

// FileSource reads daily OHLCV bars from CSV files named
// "<dir>/<ticker>.csv", one row per day: date,open,high,low,close,volume.
// This is the on-disk counterpart the backtest CLI uses when no live
// broker/vendor feed is configured.
type FileSource struct {
	Dir string
}

// NewFileSource constructs a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (f *FileSource) FetchOHLCV(ctx context.Context, ticker string, start, end time.Time, interval string) (types.OHLCVSeries, error) {
	path := filepath.Join(f.Dir, ticker+".csv")
	file, err := os.Open(path)
	if err != nil {
		return types.OHLCVSeries{}, fmt.Errorf("marketdata: opening %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return types.OHLCVSeries{}, fmt.Errorf("marketdata: reading %s: %w", path, err)
	}

	series := types.OHLCVSeries{Ticker: ticker, Interval: interval}
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		if i == 0 {
			if _, err := time.Parse("2006-01-02", row[0]); err != nil {
				continue // header row
			}
		}
		ts, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return types.OHLCVSeries{}, fmt.Errorf("marketdata: %s row %d: bad date %q: %w", path, i, row[0], err)
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		open, _ := decimal.NewFromString(row[1])
		high, _ := decimal.NewFromString(row[2])
		low, _ := decimal.NewFromString(row[3])
		closePrice, _ := decimal.NewFromString(row[4])
		volume, _ := decimal.NewFromString(row[5])
		bar, err := types.NewBar(ts, open, high, low, closePrice, volume)
		if err != nil {
			return types.OHLCVSeries{}, fmt.Errorf("marketdata: %s row %d: %w", path, i, err)
		}
		series.Bars = append(series.Bars, bar)
	}
	return series, nil
}
