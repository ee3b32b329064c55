package reservoir

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func TestRegularSpikingNeuronSilentAtRest(t *testing.T) {
	neuron := SingleNeuron(RegularSpiking)
	for step := 0; step < 1000; step++ {
		if fired := neuron.Step([]float64{0}); len(fired) > 0 {
			t.Fatalf("resting neuron fired at step %d", step)
		}
	}
	if v := neuron.Potentials()[0]; v > spikeThreshold || math.IsNaN(v) {
		t.Fatalf("unexpected resting potential: %f", v)
	}
}

func TestRegularSpikingNeuronFiresPeriodicallyUnderDrive(t *testing.T) {
	neuron := SingleNeuron(RegularSpiking)
	var spikes []int
	for step := 0; step < 1000; step++ {
		if fired := neuron.Step([]float64{10}); len(fired) > 0 {
			spikes = append(spikes, step)
		}
	}
	if len(spikes) < 3 {
		t.Fatalf("expected periodic firing under constant drive, got %d spikes", len(spikes))
	}
	// Skip the adaptation transient and check the steady intervals.
	intervals := make([]int, 0, len(spikes))
	for i := 2; i < len(spikes); i++ {
		intervals = append(intervals, spikes[i]-spikes[i-1])
	}
	for _, isi := range intervals {
		if isi <= 0 || isi > 500 {
			t.Fatalf("unexpected inter-spike interval %d (spikes=%v)", isi, spikes)
		}
	}
	last := intervals[len(intervals)-1]
	prev := intervals[len(intervals)-2]
	if int(math.Abs(float64(last-prev))) > 3 {
		t.Fatalf("expected steady interval, got %v", intervals)
	}
}

func TestDiffuseResetsAndPropagates(t *testing.T) {
	connections := mat.NewDense(2, 2, []float64{0, 0, 1.5, 0})
	r, err := NewIzhikevich(
		[]float64{0.02, 0.02}, []float64{0.2, 0.2}, []float64{-65, -60}, []float64{8, 8},
		[]float64{35, -70}, []float64{-13, -14}, connections,
	)
	if err != nil {
		t.Fatalf("new izhikevich: %v", err)
	}
	current, fired := r.Diffuse([]float64{1, 2})
	if len(fired) != 1 || fired[0] != 0 {
		t.Fatalf("expected neuron 0 to fire, got %v", fired)
	}
	if current[0] != 1 || current[1] != 3.5 {
		t.Fatalf("unexpected diffused current: %v", current)
	}
	if v := r.Potentials()[0]; v != -65 {
		t.Fatalf("expected reset potential, got %f", v)
	}
	if r.u[0] != -5 {
		t.Fatalf("expected recovery increment, got %f", r.u[0])
	}
}

func TestExciteClampsInput(t *testing.T) {
	a := SingleNeuron(RegularSpiking)
	b := SingleNeuron(RegularSpiking)
	a.Excite([]float64{500})
	b.Excite([]float64{maxCurrent})
	if a.Potentials()[0] != b.Potentials()[0] {
		t.Fatalf("expected clamped input to match: %f vs %f", a.Potentials()[0], b.Potentials()[0])
	}
}

func TestRandomIzhikevichStructure(t *testing.T) {
	r, err := RandomIzhikevich(50, 0.2, 0.8, testRand(42))
	if err != nil {
		t.Fatalf("random izhikevich: %v", err)
	}
	if r.Neurons() != 50 {
		t.Fatalf("unexpected neuron count: %d", r.Neurons())
	}
	for i := 0; i < 50; i++ {
		if r.connections.At(i, i) != 0 {
			t.Fatalf("unexpected self connection at %d", i)
		}
		want := FastSpiking
		if i < 40 {
			want = RegularSpiking
		}
		if r.a[i] != want.A || r.d[i] != want.D {
			t.Fatalf("neuron %d has wrong class params", i)
		}
		if r.v[i] < -70 || r.v[i] > -60 {
			t.Fatalf("neuron %d initial potential out of range: %f", i, r.v[i])
		}
		for post := 0; post < 50; post++ {
			w := r.connections.At(post, i)
			if i < 40 && w < 0 {
				t.Fatalf("excitatory neuron %d has negative weight %f", i, w)
			}
			if i >= 40 && w > 0 {
				t.Fatalf("inhibitory neuron %d has positive weight %f", i, w)
			}
		}
	}
}

func TestHarnessWindowsAndTraces(t *testing.T) {
	neuron := SingleNeuron(RegularSpiking)
	h := NewHarness(neuron)
	for i := 0; i < 4; i++ {
		h.Process(Input{Current: []float64{20}, Duration: 10 * time.Millisecond})
	}
	if h.Steps() != 40 {
		t.Fatalf("unexpected micro steps: %d", h.Steps())
	}
	ends := h.WindowEnds()
	for i, end := range ends {
		if end != (i+1)*10 {
			t.Fatalf("unexpected window end %d: %d", i, end)
		}
	}

	decay := TraceDecay(time.Millisecond, 20*time.Millisecond)
	traces := h.SpikeTraces(decay)
	r, c := traces.Dims()
	if r != 4 || c != 1 {
		t.Fatalf("unexpected trace shape: %dx%d", r, c)
	}

	// Replaying the log by hand must give the same samples.
	trace := []float64{0}
	for step, fired := range h.firings {
		DecayTrace(trace, decay, fired)
		if (step+1)%10 == 0 {
			if got := traces.At((step+1)/10-1, 0); math.Abs(got-trace[0]) > 1e-12 {
				t.Fatalf("trace sample at step %d: got=%f want=%f", step, got, trace[0])
			}
		}
	}
	if h.Activity().TotalSpikes == 0 {
		t.Fatal("expected driven neuron to spike")
	}
}

func TestSpikeTracesDegenerate(t *testing.T) {
	empty, err := NewIzhikevich(nil, nil, nil, nil, nil, nil, &mat.Dense{})
	if err != nil {
		t.Fatalf("new empty reservoir: %v", err)
	}
	h := NewHarness(empty)
	h.Process(Input{Current: nil, Duration: 5 * time.Millisecond})
	if !h.SpikeTraces(0.9).IsEmpty() {
		t.Fatal("expected empty traces for zero neurons")
	}

	h = NewHarness(SingleNeuron(RegularSpiking))
	if !h.SpikeTraces(0.9).IsEmpty() {
		t.Fatal("expected empty traces for zero windows")
	}
	if (h.Activity() != ActivityStats{}) {
		t.Fatal("expected zero activity without steps")
	}
}

func TestIzhikevichRecordRoundTrip(t *testing.T) {
	r, err := RandomIzhikevich(6, 0.5, 0.5, testRand(4))
	if err != nil {
		t.Fatalf("random izhikevich: %v", err)
	}
	restored, err := IzhikevichFromRecord(r.Record())
	if err != nil {
		t.Fatalf("from record: %v", err)
	}
	for i := 0; i < 20; i++ {
		in := []float64{5, 5, 5, 5, 5, 5}
		a := r.Step(in)
		b := restored.Step(in)
		if len(a) != len(b) {
			t.Fatalf("step %d: diverging firings %v vs %v", i, a, b)
		}
	}
}

func TestReplayMatchesLastTraceRow(t *testing.T) {
	h := NewHarness(SingleNeuron(RegularSpiking))
	for i := 0; i < 3; i++ {
		h.Process(Input{Current: []float64{20}, Duration: 10 * time.Millisecond})
	}
	decay := TraceDecay(time.Millisecond, 20*time.Millisecond)
	trace := []float64{0}
	h.Replay(trace, decay)
	if got, want := trace[0], h.SpikeTraces(decay).At(2, 0); got != want {
		t.Fatalf("replayed trace: got=%f want=%f", got, want)
	}
}
