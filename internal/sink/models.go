package sink

import (
	"time"

	"github.com/shopspring/decimal"

	"wind-curtailment-monitor/internal/curtailment"
)

// CurtailmentRecord is one persisted settlement-period aggregate.
type CurtailmentRecord struct {
	PeriodTime   time.Time
	LevelFPNMW   float64
	LevelBOALMW  float64
	LevelAfterMW float64
	DeltaMW      float64
	EnergyMWh    float64
	CostGBP      decimal.Decimal
	CreatedAt    time.Time
}

func fromSettlement(rec curtailment.SettlementRecord) CurtailmentRecord {
	return CurtailmentRecord{
		PeriodTime:   rec.PeriodTime,
		LevelFPNMW:   rec.LevelFPNMW,
		LevelBOALMW:  rec.LevelBOALMW,
		LevelAfterMW: rec.LevelAfterMW,
		DeltaMW:      rec.DeltaMW,
		EnergyMWh:    rec.EnergyMWh,
		CostGBP:      rec.CostGBP,
	}
}
