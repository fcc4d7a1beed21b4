package defaults

import (
	"github.com/ts4z/cyclepot/paytable"
)

// cyclePaytable is the hand-tuned split used at the end of every cycle.
// It is front-loaded: first place always takes the largest share.
var cyclePaytable = &paytable.Paytable{
	Name: "Cycle Prize Curve",
	Rows: []paytable.Row{
		{Winners: 1, Weights: []int{10000}}, // Winner takes all
		{Winners: 2, Weights: []int{7000, 3000}},
		{Winners: 3, Weights: []int{6000, 3000, 1000}},
		{Winners: 4, Weights: []int{6000, 2500, 1000, 500}},
		{Winners: 5, Weights: []int{5000, 2500, 1500, 700, 300}},
		{Winners: 6, Weights: []int{4000, 2500, 1500, 1000, 600, 400}},
		{Winners: 7, Weights: []int{3500, 2500, 1500, 1000, 800, 400, 300}},
		{Winners: 8, Weights: []int{3000, 2500, 1500, 1000, 1000, 500, 300, 200}},
		{Winners: 9, Weights: []int{2800, 2500, 1500, 1000, 1000, 600, 300, 200, 100}},
		{Winners: 10, Weights: []int{2500, 2000, 1500, 1000, 1000, 700, 500, 400, 300, 100}},
	},
}

func CyclePaytable() *paytable.Paytable {
	return cyclePaytable.Clone()
}
