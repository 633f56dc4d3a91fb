package reps

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/rep_counter/internal/imu"
	"github.com/relabs-tech/rep_counter/internal/telemetry"
)

type fakeChannel struct {
	ready  bool
	events []telemetry.Event
}

func (f *fakeChannel) Ready() bool             { return f.ready }
func (f *fakeChannel) Send(ev telemetry.Event) { f.events = append(f.events, ev) }
func (f *fakeChannel) states() (out []string) {
	for _, ev := range f.events {
		out = append(out, ev.State)
	}
	return out
}

func gyroSample(gz float64, ts int64) imu.Sample {
	return imu.Sample{Gyro: imu.Vec3{Z: gz}, Timestamp: ts}
}

func TestCalibratorConvergence(t *testing.T) {
	c := NewCalibrator(2000 * time.Millisecond)

	// 100 samples at 20ms alternate around V = (0.2, -0.1, 9.81)
	var ts int64
	for i := 0; i < 100; i++ {
		d := 0.05
		if i%2 == 1 {
			d = -0.05
		}
		gated, completed := c.Observe(imu.Sample{
			Accel:     imu.Vec3{X: 0.2 + d, Y: -0.1 - d, Z: 9.81 + d},
			Timestamp: ts,
		})
		require.True(t, gated, "sample %d", i)
		require.False(t, completed)
		ts += 20
	}
	require.False(t, c.Done())

	gated, completed := c.Observe(imu.Sample{Timestamp: ts})
	require.False(t, gated)
	require.True(t, completed)
	require.True(t, c.Done())
	require.Equal(t, 100, c.Samples())

	off := c.Offset()
	require.InDelta(t, 0.2, off.X, 1e-9)
	require.InDelta(t, -0.1, off.Y, 1e-9)
	require.InDelta(t, 9.81, off.Z, 1e-9)

	// never re-enters calibration
	for i := 0; i < 5; i++ {
		ts += 20
		gated, completed = c.Observe(imu.Sample{Accel: imu.Vec3{X: 100}, Timestamp: ts})
		require.False(t, gated)
		require.False(t, completed)
	}
	require.InDelta(t, 0.2, c.Offset().X, 1e-9)
}

func TestCalibratorZeroSamples(t *testing.T) {
	c := NewCalibrator(0)
	gated, completed := c.Observe(imu.Sample{Accel: imu.Vec3{X: 3, Y: 4, Z: 5}, Timestamp: 1000})
	require.False(t, gated)
	require.True(t, completed)
	require.Equal(t, Offset{}, c.Offset())
	require.Zero(t, c.Samples())
}

func TestConditionDeadZone(t *testing.T) {
	off := Offset{X: 1, Y: -1, Z: 9.8}
	cases := []struct {
		name string
		in   imu.Vec3
		want imu.Vec3
	}{
		{"all inside", imu.Vec3{X: 1.49, Y: -0.51, Z: 9.4}, imu.Vec3{}},
		{"negative inside", imu.Vec3{X: 0.6, Y: -1.3, Z: 9.31}, imu.Vec3{}},
		{"outside", imu.Vec3{X: 2, Y: -2, Z: 8}, imu.Vec3{X: 1, Y: -1, Z: 8 - 9.8}},
		{"at edge passes", imu.Vec3{X: 1.5, Y: -1.5, Z: 9.8}, imu.Vec3{X: 0.5, Y: -0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Condition(imu.Sample{Accel: tc.in, Gyro: imu.Vec3{Z: 2}}, off, 0.5)
			require.InDelta(t, tc.want.X, got.X, 1e-9)
			require.InDelta(t, tc.want.Y, got.Y, 1e-9)
			require.InDelta(t, tc.want.Z, got.Z, 1e-9)
		})
	}

	got := Condition(imu.Sample{Accel: imu.Vec3{X: 1.2, Y: -1.2, Z: 9.8}}, off, 0.5)
	require.True(t, got.X == 0 && got.Y == 0 && got.Z == 0)
}

func TestNextPhase(t *testing.T) {
	const th = 1.5
	cases := []struct {
		name    string
		cur     Phase
		pos     bool
		gz      float64
		want    Phase
		wantPos bool
	}{
		{"waiting no signal", PhaseWaiting, false, 0.2, PhaseWaiting, false},
		{"waiting at threshold", PhaseWaiting, false, 1.5, PhaseWaiting, false},
		{"waiting at negative threshold", PhaseWaiting, false, -1.5, PhaseWaiting, false},
		{"waiting positive start", PhaseWaiting, false, 1.6, PhaseConcentric, true},
		{"waiting negative start", PhaseWaiting, true, -1.6, PhaseConcentric, false},
		{"concentric same direction holds", PhaseConcentric, true, 3, PhaseConcentric, true},
		{"concentric at threshold holds", PhaseConcentric, true, -1.5, PhaseConcentric, true},
		{"concentric reverses", PhaseConcentric, true, -1.51, PhaseEccentric, true},
		{"negative concentric reverses", PhaseConcentric, false, 1.51, PhaseEccentric, false},
		{"eccentric holds", PhaseEccentric, true, -2, PhaseEccentric, true},
		{"eccentric dead zone holds", PhaseEccentric, true, 0, PhaseEccentric, true},
		{"eccentric at threshold holds", PhaseEccentric, true, 1.5, PhaseEccentric, true},
		{"negative eccentric at threshold holds", PhaseEccentric, false, -1.5, PhaseEccentric, false},
		{"eccentric back to concentric", PhaseEccentric, true, 2, PhaseConcentric, true},
		{"negative eccentric back", PhaseEccentric, false, -2, PhaseConcentric, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, pos := NextPhase(tc.cur, tc.pos, tc.gz, th)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.wantPos, pos)
		})
	}
}

func TestNextPhaseDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		cur := Phase(rng.Intn(3))
		pos := rng.Intn(2) == 0
		gz := rng.Float64()*8 - 4

		a, ap := NextPhase(cur, pos, gz, 1.5)
		b, bp := NextPhase(cur, pos, gz, 1.5)
		require.Equal(t, a, b)
		require.Equal(t, ap, bp)
	}
}

func TestDetectorEndToEnd(t *testing.T) {
	d := NewDetector(1.5)
	gz := []float64{0.2, 1.8, 1.7, -1.6, -1.7, 1.9}
	want := []Phase{PhaseWaiting, PhaseConcentric, PhaseConcentric, PhaseEccentric, PhaseEccentric, PhaseConcentric}

	var got []Phase
	for i, v := range gz {
		d.Update(v, int64(i)*20)
		got = append(got, d.Phase())
	}
	require.Equal(t, want, got)
	require.Equal(t, 1, d.Reps())
	require.True(t, d.ConcentricPositive())
}

func TestDetectorTransitions(t *testing.T) {
	d := NewDetector(1.5)

	_, ok := d.Update(1.0, 0)
	require.False(t, ok)

	tr, ok := d.Update(-2, 100)
	require.True(t, ok)
	require.Equal(t, Transition{From: PhaseWaiting, To: PhaseConcentric}, tr)
	require.False(t, d.ConcentricPositive())

	tr, ok = d.Update(2, 450)
	require.True(t, ok)
	require.Equal(t, PhaseEccentric, tr.To)
	require.Equal(t, uint64(350), tr.Duration)

	tr, ok = d.Update(-2, 900)
	require.True(t, ok)
	require.True(t, tr.RepCompleted())
	require.Equal(t, uint64(0), d.ConcentricElapsed(900))
	require.Equal(t, uint64(120), d.ConcentricElapsed(1020))
}

func TestDetectorNeverReturnsToWaiting(t *testing.T) {
	d := NewDetector(1.5)
	d.Update(2, 0)
	for i := int64(1); i < 500; i++ {
		d.Update(0, i*20)
		require.NotEqual(t, PhaseWaiting, d.Phase())
	}
	// opposite rotation after a long pause is an eccentric, not a new set
	d.Update(-2, 100_000)
	require.Equal(t, PhaseEccentric, d.Phase())
}

func TestRepCountMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	d := NewDetector(1.5)
	prev := 0
	for i := 0; i < 5000; i++ {
		tr, ok := d.Update(rng.Float64()*8-4, int64(i)*20)
		want := prev
		if ok && tr.RepCompleted() {
			want++
		}
		require.Equal(t, want, d.Reps())
		prev = d.Reps()
	}
	require.Positive(t, prev)
}

func TestHistoryMedian(t *testing.T) {
	h := NewHistory(10)
	require.Zero(t, h.Median())

	for _, v := range []uint64{5, 3, 8, 1, 9} {
		h.Add(v)
	}
	require.Equal(t, 5.0, h.Median())

	h = NewHistory(10)
	for _, v := range []uint64{5, 3, 8, 1} {
		h.Add(v)
	}
	require.Equal(t, 4.0, h.Median())
	require.Equal(t, []uint64{5, 3, 8, 1}, h.Values())
}

func TestHistoryWraps(t *testing.T) {
	h := NewHistory(10)
	for i := uint64(1); i <= 12; i++ {
		h.Add(i * 100)
	}
	require.Equal(t, 10, h.Len())
	require.Equal(t, 10, h.Cap())
	require.Equal(t, []uint64{300, 400, 500, 600, 700, 800, 900, 1000, 1100, 1200}, h.Values())
	require.Equal(t, 750.0, h.Median())
}

func TestHistoryEstablished(t *testing.T) {
	h := NewHistory(10)
	h.Add(1)
	h.Add(2)
	require.False(t, h.Established(3))
	h.Add(3)
	require.True(t, h.Established(3))
}

func TestFailureSuppressedBelowHistoryFloor(t *testing.T) {
	h := NewHistory(10)
	h.Add(100)
	h.Add(100)
	f := NewFailureClassifier(1.5, 3)
	for elapsed := uint64(0); elapsed < 1_000_000; elapsed += 1000 {
		require.False(t, f.Evaluate(PhaseConcentric, elapsed, h))
	}
	require.False(t, f.Failed())
}

func TestFailureRaisedOnce(t *testing.T) {
	h := NewHistory(10)
	for _, v := range []uint64{200, 200, 200} {
		h.Add(v)
	}
	f := NewFailureClassifier(1.5, 3)

	require.False(t, f.Evaluate(PhaseConcentric, 300, h))
	require.True(t, f.Evaluate(PhaseConcentric, 301, h))
	require.True(t, f.Failed())
	require.False(t, f.Evaluate(PhaseConcentric, 400, h))
	require.Equal(t, 1, f.Total())

	f.Reset()
	require.False(t, f.Failed())
	require.False(t, f.Evaluate(PhaseEccentric, 10_000, h))
}

func TestEmitterHeldState(t *testing.T) {
	ch := &fakeChannel{ready: true}
	e := NewEmitter(ch)
	for i := 0; i < 100; i++ {
		sent := e.Observe(PhaseConcentric, false, 0)
		require.Equal(t, i == 0, sent)
	}
	require.Len(t, ch.events, 1)
	require.Equal(t, telemetry.NewEvent(telemetry.StateConcentric, 0), ch.events[0])
}

func TestEmitterAlternating(t *testing.T) {
	ch := &fakeChannel{ready: true}
	e := NewEmitter(ch)
	for i := 0; i < 100; i++ {
		p := PhaseConcentric
		if i%2 == 1 {
			p = PhaseEccentric
		}
		require.True(t, e.Observe(p, false, 0))
	}
	require.Len(t, ch.events, 100)
}

func TestEmitterFailurePriority(t *testing.T) {
	ch := &fakeChannel{ready: true}
	e := NewEmitter(ch)
	e.Observe(PhaseConcentric, false, 2)
	e.Observe(PhaseConcentric, true, 2)
	e.Observe(PhaseEccentric, false, 2)
	require.Equal(t, []string{"concentric", "failure", "eccentric"}, ch.states())
}

func TestEmitterNotReady(t *testing.T) {
	ch := &fakeChannel{}
	e := NewEmitter(ch)

	require.False(t, e.Observe(PhaseWaiting, false, 0))
	require.False(t, e.Observe(PhaseConcentric, false, 0))
	require.Empty(t, ch.events)
	require.Equal(t, 2, e.Skipped())

	ch.ready = true
	require.True(t, e.Observe(PhaseConcentric, false, 0))
	require.False(t, e.Observe(PhaseConcentric, false, 0))
	require.Equal(t, []string{"concentric"}, ch.states())

	require.False(t, NewEmitter(nil).Observe(PhaseWaiting, false, 0))
}

type syncChannel struct {
	fakeChannel
	syncs int
}

func (s *syncChannel) Sync() { s.syncs++ }

func TestEmitterSyncsOnHeldState(t *testing.T) {
	ch := &syncChannel{fakeChannel: fakeChannel{ready: true}}
	e := NewEmitter(ch)

	require.True(t, e.Observe(PhaseConcentric, false, 0))
	require.Zero(t, ch.syncs)
	require.False(t, e.Observe(PhaseConcentric, false, 0))
	require.False(t, e.Observe(PhaseConcentric, false, 0))
	require.Equal(t, 2, ch.syncs)
	require.Len(t, ch.events, 1)
}

// feeder drives an engine with a 20ms clock.
type feeder struct {
	e  *Engine
	ts int64
}

func (f *feeder) feed(gz float64, n int) (last TickResult) {
	for i := 0; i < n; i++ {
		last = f.e.Tick(gyroSample(gz, f.ts))
		f.ts += 20
	}
	return last
}

func testParams() Params {
	p := DefaultParams()
	p.CalibrationWindow = 0
	return p
}

func TestEngineEndToEnd(t *testing.T) {
	ch := &fakeChannel{ready: true}
	e := NewEngine(testParams(), ch)

	var phases []Phase
	for i, gz := range []float64{0.2, 1.8, 1.7, -1.6, -1.7, 1.9} {
		res := e.Tick(gyroSample(gz, int64(i)*20))
		phases = append(phases, res.Phase)
	}
	require.Equal(t, []Phase{PhaseWaiting, PhaseConcentric, PhaseConcentric, PhaseEccentric, PhaseEccentric, PhaseConcentric}, phases)
	require.Equal(t, 1, e.Reps())
	require.Equal(t, []string{"waiting", "concentric", "eccentric", "concentric"}, ch.states())
	require.Equal(t, 1, ch.events[3].Reps)
}

func TestEngineCalibrationGates(t *testing.T) {
	ch := &fakeChannel{ready: true}
	p := DefaultParams()
	e := NewEngine(p, ch)

	f := &feeder{e: e}
	// strong motion inside the window is ignored
	for i := 0; i < 100; i++ {
		res := f.e.Tick(imu.Sample{Accel: imu.Vec3{Z: 9.8}, Gyro: imu.Vec3{Z: 3}, Timestamp: f.ts})
		require.True(t, res.Calibrating)
		f.ts += 20
	}
	require.False(t, e.Calibrated())
	require.Empty(t, ch.events)
	require.Equal(t, PhaseWaiting, e.Phase())

	res := f.e.Tick(imu.Sample{Accel: imu.Vec3{Z: 9.8}, Timestamp: f.ts})
	require.True(t, res.CalibrationComplete)
	require.False(t, res.Calibrating)
	require.Equal(t, imu.Vec3{}, res.Accel)
	require.InDelta(t, 9.8, e.Offset().Z, 1e-9)
	require.Equal(t, []string{"waiting"}, ch.states())
}

func TestEngineFailureDetection(t *testing.T) {
	ch := &fakeChannel{ready: true}
	e := NewEngine(testParams(), ch)
	f := &feeder{e: e}

	f.feed(0, 5)
	// three reps with 200ms concentric phases
	for i := 0; i < 3; i++ {
		f.feed(2, 10)
		res := f.feed(-2, 10)
		require.False(t, res.Failed)
	}
	require.Equal(t, 2, e.Reps())
	require.Equal(t, 200.0, e.Median())

	// back to concentric, then stall in the dead zone
	res := f.feed(2, 1)
	require.Equal(t, 3, e.Reps())
	require.False(t, res.Failed)

	res = f.feed(0, 15) // elapsed 300ms
	require.False(t, res.Failed)
	res = f.feed(0, 1) // 320ms > 300ms
	require.True(t, res.FailureRaised)
	require.True(t, res.Failed)
	res = f.feed(0, 10)
	require.True(t, res.Failed)
	require.False(t, res.FailureRaised)

	// reversing clears it
	res = f.feed(-2, 1)
	require.Equal(t, PhaseEccentric, res.Phase)
	require.False(t, res.Failed)

	require.Equal(t, []string{
		"waiting",
		"concentric", "eccentric",
		"concentric", "eccentric",
		"concentric", "eccentric",
		"concentric", "failure", "eccentric",
	}, ch.states())

	sum := e.Summary()
	require.Equal(t, 3, sum.Reps)
	require.Equal(t, 1, sum.Failures)
	require.Equal(t, 4, sum.Recorded)
}

func TestEngineChannelOutage(t *testing.T) {
	ch := &fakeChannel{}
	e := NewEngine(testParams(), ch)
	f := &feeder{e: e}

	f.feed(2, 5)
	f.feed(-2, 5)
	f.feed(2, 5)
	require.Empty(t, ch.events)
	require.Equal(t, 1, e.Reps())

	ch.ready = true
	f.feed(2, 5)
	require.Equal(t, []string{"concentric"}, ch.states())
	require.Equal(t, 1, ch.events[0].Reps)
}

func TestEngineSummaryCoversWholeSet(t *testing.T) {
	e := NewEngine(testParams(), nil)
	f := &feeder{e: e}

	f.feed(0, 5)
	// 12 reps, 1000ms concentric each, more than the history holds
	for i := 0; i < 12; i++ {
		f.feed(2, 50)
		f.feed(-2, 10)
	}
	f.feed(2, 1)
	require.Equal(t, 12, e.Reps())
	require.Equal(t, 10, e.History().Len())

	sum := e.Summary()
	require.Equal(t, 12, sum.Recorded)
	require.Equal(t, uint64(12000), sum.TUTMs)
	require.Equal(t, 1000.0, sum.MeanMs)
	require.Equal(t, 1000.0, sum.MedianMs)
	require.Zero(t, sum.FatigueIndex)
}

func TestEngineSetEnd(t *testing.T) {
	e := NewEngine(testParams(), nil)
	f := &feeder{e: e}
	f.feed(0, 1)
	for i := 0; i < 4; i++ {
		f.feed(2, 10)
		f.feed(-2, 10)
	}
	f.feed(2, 1)

	ev := e.SetEnd()
	require.Equal(t, telemetry.EventSetEnd, ev.Event)
	require.Equal(t, telemetry.StateConcentric, ev.State)
	require.Equal(t, 4, ev.Reps)
	require.True(t, ev.Valid())
	require.NotNil(t, ev.Summary)
	require.Equal(t, uint64(800), ev.Summary.TUTMs)
	require.Contains(t, ev.Tip, "2 more reps")
}

func TestSummaryTip(t *testing.T) {
	require.Equal(t, "No reps recorded.", Summary{}.Tip())
	require.Contains(t, Summary{Reps: 8, Failures: 2}.Tip(), "2 rep(s) slowed")
	require.Contains(t, Summary{Reps: 5, FatigueIndex: 4}.Tip(), "3 more reps")
	require.Contains(t, Summary{Reps: 8, FatigueIndex: 45}.Tip(), "Big slowdown")
	require.Contains(t, Summary{Reps: 8, FatigueIndex: 20}.Tip(), "Slowdown at 20%")
}

func TestSummarize(t *testing.T) {
	s := Summarize(4, 1, []uint64{400, 500, 600, 800})
	require.Equal(t, 4, s.Recorded)
	require.Equal(t, 550.0, s.MedianMs)
	require.Equal(t, 575.0, s.MeanMs)
	require.Equal(t, uint64(2300), s.TUTMs)
	require.InDelta(t, 50.0, s.FatigueIndex, 1e-9)
	require.InDelta(t, 2.0, s.LastVsFirst, 1e-9)

	empty := Summarize(0, 0, nil)
	require.Zero(t, empty.MedianMs)
	require.Zero(t, empty.FatigueIndex)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.MinHistory = 11
	require.Error(t, p.Validate())

	p = DefaultParams()
	p.DirectionThreshold = 0
	require.Error(t, p.Validate())
}
