package reservoir

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Input is a constant per-neuron current held for Duration.
type Input struct {
	Current  []float64
	Duration time.Duration
}

// Harness drives a spiking reservoir over input windows and keeps the firing
// log needed to realign micro-step spikes with control ticks.
type Harness struct {
	reservoir *Izhikevich
	// firings holds the firing neuron ids of every micro step.
	firings [][]int
	// windowEnds holds, per processed input window, the cumulative number of
	// micro steps at the end of that window.
	windowEnds []int
	totalTime  time.Duration
}

func NewHarness(r *Izhikevich) *Harness {
	return &Harness{reservoir: r}
}

func (h *Harness) Reservoir() *Izhikevich {
	return h.reservoir
}

func (h *Harness) Steps() int {
	return len(h.firings)
}

func (h *Harness) WindowEnds() []int {
	return append([]int(nil), h.windowEnds...)
}

// Process steps the reservoir at its fixed dt until in.Duration is covered.
func (h *Harness) Process(in Input) {
	dt := h.reservoir.Dt()
	var t time.Duration
	for t < in.Duration {
		h.firings = append(h.firings, h.reservoir.Step(in.Current))
		t += dt
	}
	h.totalTime += t
	h.windowEnds = append(h.windowEnds, len(h.firings))
}

// SpikeTraces replays the firing log with an exponentially decaying trace per
// neuron and samples one row at the end of every input window. Zero neurons
// or zero windows yield an empty matrix.
func (h *Harness) SpikeTraces(decay float64) *mat.Dense {
	n := h.reservoir.Neurons()
	if n == 0 || len(h.windowEnds) == 0 {
		return &mat.Dense{}
	}

	out := mat.NewDense(len(h.windowEnds), n, nil)
	trace := make([]float64, n)
	window := 0
	for step, fired := range h.firings {
		DecayTrace(trace, decay, fired)
		for window < len(h.windowEnds) && step+1 == h.windowEnds[window] {
			out.SetRow(window, trace)
			window++
		}
		if window >= len(h.windowEnds) {
			break
		}
	}
	return out
}

// Replay applies the whole firing log to trace in place.
func (h *Harness) Replay(trace []float64, decay float64) {
	for _, fired := range h.firings {
		DecayTrace(trace, decay, fired)
	}
}

// DecayTrace multiplies trace by decay and adds one for each fired neuron.
func DecayTrace(trace []float64, decay float64, fired []int) {
	for i := range trace {
		trace[i] *= decay
	}
	for _, i := range fired {
		trace[i]++
	}
}

// TraceDecay converts a trace time constant into a per-step decay factor.
func TraceDecay(dt, tau time.Duration) float64 {
	return math.Exp(-float64(dt) / float64(tau))
}

// ActivityStats summarises the population firing log.
type ActivityStats struct {
	Steps          int     `json:"steps"`
	TotalSpikes    int     `json:"total_spikes"`
	MeanPerStep    float64 `json:"mean_per_step"`
	StdPerStep     float64 `json:"std_per_step"`
	CV             float64 `json:"cv"`
	BurstThreshold float64 `json:"burst_threshold"`
	BurstFraction  float64 `json:"burst_fraction"`
	SilentFraction float64 `json:"silent_fraction"`
	RateHz         float64 `json:"rate_hz"`
}

// Activity reports burstiness and rate statistics of the firing log. A step
// is a burst when its spike count exceeds mean+2·std, or mean+1 when the
// activity is flat.
func (h *Harness) Activity() ActivityStats {
	steps := len(h.firings)
	if steps == 0 {
		return ActivityStats{}
	}
	counts := make([]float64, steps)
	total := 0
	silent := 0
	for i, fired := range h.firings {
		counts[i] = float64(len(fired))
		total += len(fired)
		if len(fired) == 0 {
			silent++
		}
	}
	mean, std := stat.PopMeanStdDev(counts, nil)

	cv := 0.0
	if mean > 1e-12 {
		cv = std / mean
	}
	threshold := mean + 1
	if std > 1e-12 {
		threshold = mean + 2*std
	}
	bursts := 0
	for _, c := range counts {
		if c > threshold {
			bursts++
		}
	}

	rate := 0.0
	if n := h.reservoir.Neurons(); n > 0 && h.totalTime > 0 {
		rate = float64(total) / (float64(n) * h.totalTime.Seconds())
	}
	return ActivityStats{
		Steps:          steps,
		TotalSpikes:    total,
		MeanPerStep:    mean,
		StdPerStep:     std,
		CV:             cv,
		BurstThreshold: threshold,
		BurstFraction:  float64(bursts) / float64(steps),
		SilentFraction: float64(silent) / float64(steps),
		RateHz:         rate,
	}
}
