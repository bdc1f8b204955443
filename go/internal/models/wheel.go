package models

// WheelColor groups wheel sections for payout purposes.
type WheelColor string

const (
	WheelColorGold  WheelColor = "GOLD"
	WheelColorRed   WheelColor = "RED"
	WheelColorBlack WheelColor = "BLACK"
)

// WheelSection is one slot on the wheel. Weight biases the draw; all sections
// on the standard wheel are equally likely.
type WheelSection struct {
	Index      int        `json:"index"`
	Color      WheelColor `json:"color"`
	Multiplier float64    `json:"multiplier"`
	Weight     int        `json:"weight"`
}

// WheelSections is the standard 15-section wheel: one gold section paying 14x
// and seven each of red and black paying 2x, alternating.
var WheelSections = buildWheel()

func buildWheel() []WheelSection {
	sections := make([]WheelSection, 0, 15)
	sections = append(sections, WheelSection{Index: 0, Color: WheelColorGold, Multiplier: 14, Weight: 1})
	for i := 1; i < 15; i++ {
		color := WheelColorRed
		if i%2 == 0 {
			color = WheelColorBlack
		}
		sections = append(sections, WheelSection{Index: i, Color: color, Multiplier: 2, Weight: 1})
	}
	return sections
}
