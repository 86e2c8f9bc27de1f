package scoring

import (
	"encoding/json"
	"fmt"
	"os"
)

// Weights tunes the scoring engine. Zero weight disables a factor.
type Weights struct {
	PER float64 `json:"per"`
	PBR float64 `json:"pbr"`
	ROE float64 `json:"roe"`

	Supply5D  float64 `json:"supply_5d"`
	Supply10D float64 `json:"supply_10d"`
	Supply20D float64 `json:"supply_20d"`

	Turnover        float64 `json:"turnover"`
	TurnoverFullPct float64 `json:"turnover_full_pct"` // pct change scoring full marks

	SectorSupply5D  float64 `json:"sector_supply_5d"`
	SectorSupply10D float64 `json:"sector_supply_10d"`

	TrendThresholdPct float64 `json:"trend_threshold_pct"`
	StrengthQtyBlend  float64 `json:"strength_qty_blend"` // 수량비중 0..1, 나머지는 금액
}

// DefaultWeights returns the tuned defaults.
func DefaultWeights() Weights {
	return Weights{
		PER:               2,
		PBR:               1.5,
		ROE:               1.5,
		Supply5D:          15,
		Supply10D:         15,
		Supply20D:         15,
		Turnover:          10,
		TurnoverFullPct:   50,
		SectorSupply5D:    20,
		SectorSupply10D:   20,
		TrendThresholdPct: 10,
		StrengthQtyBlend:  0.5,
	}
}

// LoadWeights reads weights from a JSON file. A missing file yields the
// defaults.
func LoadWeights(path string) (Weights, error) {
	w := DefaultWeights()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return w, nil
	}
	if err != nil {
		return w, fmt.Errorf("weights read: %w", err)
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return DefaultWeights(), fmt.Errorf("weights parse: %w", err)
	}
	return w, nil
}

// SaveWeights writes weights to a JSON file.
func SaveWeights(path string, w Weights) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
