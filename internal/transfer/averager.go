package transfer

import "time"

// Window is how far back the Averager looks.
const Window = time.Second

type avgSample struct {
	dur   time.Duration
	bytes int64
	at    time.Time
}

// Averager computes throughput over a sliding window of chunk timings.
type Averager struct {
	samples []avgSample
}

// Update records n bytes handled in dur, finished at now, and evicts samples
// older than Window.
func (a *Averager) Update(dur time.Duration, n int64, now time.Time) {
	a.samples = append(a.samples, avgSample{dur: dur, bytes: n, at: now})
	i := 0
	for i < len(a.samples) && now.Sub(a.samples[i].at) > Window {
		i++
	}
	a.samples = a.samples[i:]
}

// BytesPerSecond is the summed bytes over the summed durations of the window.
func (a *Averager) BytesPerSecond() uint64 {
	var dur time.Duration
	var n int64
	for _, s := range a.samples {
		dur += s.dur
		n += s.bytes
	}
	if dur <= 0 {
		return 0
	}
	return uint64(float64(n) / dur.Seconds())
}
