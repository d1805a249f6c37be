package game

import (
	"errors"
	"fmt"
)

// RankBand is one row of a rank table: metrics >= Min earn Label.
type RankBand struct {
	Min   float64 `yaml:"min" json:"min"`
	Label string  `yaml:"label" json:"label"`
}

// RankTable maps a final metric to a label. Bands are ordered by strictly
// descending Min; Default applies when no band matches.
type RankTable struct {
	Bands   []RankBand `yaml:"bands" json:"bands"`
	Default string     `yaml:"default" json:"default"`
}

// Classify returns the label of the first band whose Min is satisfied.
func (t RankTable) Classify(metric float64) string {
	for _, b := range t.Bands {
		if metric >= b.Min {
			return b.Label
		}
	}
	return t.Default
}

// Validate checks the ordering and label invariants.
func (t RankTable) Validate() error {
	if t.Default == "" {
		return errors.New("default label must not be empty")
	}
	for i, b := range t.Bands {
		if b.Label == "" {
			return fmt.Errorf("bands[%d].label must not be empty", i)
		}
		if i > 0 && b.Min >= t.Bands[i-1].Min {
			return fmt.Errorf("bands[%d].min (%v) must be < bands[%d].min (%v)", i, b.Min, i-1, t.Bands[i-1].Min)
		}
	}
	return nil
}

// StepRanks grades the motion game by step count.
func StepRanks() RankTable {
	return RankTable{
		Bands: []RankBand{
			{Min: 100, Label: "전설의 기수"},
			{Min: 80, Label: "최고의 기수"},
			{Min: 60, Label: "우수한 기수"},
			{Min: 40, Label: "숙련된 기수"},
			{Min: 20, Label: "초보 기수"},
		},
		Default: "연습이 필요해요",
	}
}

// SizeRanks grades the audio game by peak size as a percentage of the
// size range.
func SizeRanks() RankTable {
	return RankTable{
		Bands: []RankBand{
			{Min: 95, Label: "메가 오렌지"},
			{Min: 80, Label: "거대한 오렌지"},
			{Min: 60, Label: "큰 오렌지"},
			{Min: 40, Label: "보통 오렌지"},
			{Min: 20, Label: "작은 오렌지"},
		},
		Default: "조용한 오렌지",
	}
}
