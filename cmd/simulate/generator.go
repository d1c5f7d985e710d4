package simulate

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/nicolastakashi/opsdash/internal/dashboard"
)

// signal is a simulated sensor following a bounded random walk.
type signal struct {
	Metric string
	Unit   string
	Start  float64
	Step   float64
	Min    float64
	Max    float64
}

var defaultSignals = []signal{
	{Metric: "T1", Unit: "F", Start: 70, Step: 0.5, Min: 40, Max: 110},
	{Metric: "P1", Unit: "PSI", Start: 30, Step: 0.25, Min: 0, Max: 60},
	{Metric: "H1", Unit: "%", Start: 45, Step: 1, Min: 0, Max: 100},
}

type generator struct {
	rnd     *rand.Rand
	signals []signal
	values  []float64
}

func newGenerator(seed uint64, signals []signal) *generator {
	g := &generator{
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		signals: signals,
		values:  make([]float64, len(signals)),
	}
	for i, s := range signals {
		g.values[i] = s.Start
	}
	return g
}

// next advances every signal one step and returns their readings at t.
func (g *generator) next(t time.Time) []dashboard.Measurement {
	out := make([]dashboard.Measurement, 0, len(g.signals))
	for i, s := range g.signals {
		v := g.values[i] + (g.rnd.Float64()*2-1)*s.Step
		v = math.Max(s.Min, math.Min(s.Max, v))
		g.values[i] = v
		out = append(out, dashboard.Measurement{
			Metric: s.Metric,
			At:     t.UnixMilli(),
			Value:  math.Round(v*100) / 100,
			Unit:   s.Unit,
		})
	}
	return out
}
