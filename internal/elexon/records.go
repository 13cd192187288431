package elexon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the three record families returned by the BMRS API.
type Kind string

const (
	// KindSchedule marks a declared-schedule (FPN) segment.
	KindSchedule Kind = "PN"
	// KindDeviation marks an operator instruction (BOAL) segment.
	KindDeviation Kind = "BOALF"
	// KindPrice marks a bid/offer price pair (BOD).
	KindPrice Kind = "BOD"
)

// Record is one normalised row from the upstream API. Fields beyond Kind, Unit
// and the time/level pair are populated only for the kinds that carry them.
type Record struct {
	Kind       Kind
	Unit       string
	TimeFrom   time.Time
	TimeTo     time.Time
	LevelFrom  float64
	LevelTo    float64
	AcceptID   int64
	AcceptTime time.Time
	PairID     int
	Bid        decimal.Decimal
	Offer      decimal.Decimal
}

// wireRecord mirrors the upstream JSON row loosely; numerics arrive as either
// numbers or strings depending on dataset age, so everything decodes through
// json.Number.
type wireRecord struct {
	Dataset          string      `json:"dataset"`
	BMUnit           string      `json:"bmUnit"`
	TimeFrom         string      `json:"timeFrom"`
	TimeTo           string      `json:"timeTo"`
	LevelFrom        json.Number `json:"levelFrom"`
	LevelTo          json.Number `json:"levelTo"`
	AcceptanceNumber json.Number `json:"acceptanceNumber"`
	AcceptanceTime   string      `json:"acceptanceTime"`
	PairID           json.Number `json:"pairId"`
	Bid              json.Number `json:"bid"`
	Offer            json.Number `json:"offer"`
}

type dataEnvelope struct {
	Data []wireRecord `json:"data"`
}

const timestampLayoutNoZone = "2006-01-02T15:04:05"

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	// Some endpoints omit the zone suffix; timestamps are UTC regardless.
	ts, err := time.Parse(timestampLayoutNoZone, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func (w wireRecord) toRecord() (Record, error) {
	rec := Record{
		Kind: Kind(w.Dataset),
		Unit: w.BMUnit,
	}

	var err error
	if rec.TimeFrom, err = parseTimestamp(w.TimeFrom); err != nil {
		return Record{}, err
	}
	if w.TimeTo != "" {
		if rec.TimeTo, err = parseTimestamp(w.TimeTo); err != nil {
			return Record{}, err
		}
	}

	if rec.LevelFrom, err = numberToFloat(w.LevelFrom); err != nil {
		return Record{}, fmt.Errorf("levelFrom: %w", err)
	}
	if rec.LevelTo, err = numberToFloat(w.LevelTo); err != nil {
		return Record{}, fmt.Errorf("levelTo: %w", err)
	}

	switch rec.Kind {
	case KindDeviation:
		if rec.AcceptID, err = w.AcceptanceNumber.Int64(); err != nil {
			return Record{}, fmt.Errorf("acceptanceNumber %q: %w", w.AcceptanceNumber, err)
		}
		if w.AcceptanceTime != "" {
			if rec.AcceptTime, err = parseTimestamp(w.AcceptanceTime); err != nil {
				return Record{}, err
			}
		}
	case KindPrice:
		pair, err := w.PairID.Int64()
		if err != nil {
			return Record{}, fmt.Errorf("pairId %q: %w", w.PairID, err)
		}
		rec.PairID = int(pair)
		if rec.Bid, err = numberToDecimal(w.Bid); err != nil {
			return Record{}, fmt.Errorf("bid: %w", err)
		}
		if rec.Offer, err = numberToDecimal(w.Offer); err != nil {
			return Record{}, fmt.Errorf("offer: %w", err)
		}
	}

	return rec, nil
}

func numberToFloat(n json.Number) (float64, error) {
	if n == "" {
		return 0, nil
	}
	return n.Float64()
}

func numberToDecimal(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}
