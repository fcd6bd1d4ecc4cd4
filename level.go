package main

import (
	"math"
	"time"

	"murmur/pcm"
)

const (
	tickInterval     = 100 * time.Millisecond
	silenceWarnAfter = 8 * time.Second
	idleStopAfter    = 30 * time.Second
	signalMinRatio   = 0.10
	signalClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
	signalMinRMS     = 200  // int16 units, about -44 dBFS
)

type levelEvent int

const (
	levelNone     levelEvent = iota
	levelSilent              // no signal for silenceWarnAfter
	levelRestored            // signal came back after a warning
	levelIdle                // no signal for idleStopAfter
)

// levelMonitor turns decoded chunks into 100ms ticks and watches the share
// of ticks carrying signal. A dead or muted microphone shows up as a long
// run of near-zero ticks.
type levelMonitor struct {
	warnAt   int
	windowSz int
	idleStop bool

	tickSamples int
	sumSq       float64
	n           int

	ticks       int
	window      []bool
	signalCount int
	warned      bool
}

func newLevelMonitor(idleStop bool) *levelMonitor {
	windowSz := int(idleStopAfter / tickInterval)
	return &levelMonitor{
		warnAt:      int(silenceWarnAfter / tickInterval),
		windowSz:    windowSz,
		idleStop:    idleStop,
		tickSamples: int(pcm.SampleRate * tickInterval / time.Second),
		window:      make([]bool, windowSz),
	}
}

// Observe feeds samples and returns the most significant event raised by
// the ticks they complete.
func (m *levelMonitor) Observe(samples []int16) levelEvent {
	ev := levelNone
	for _, s := range samples {
		v := float64(s)
		m.sumSq += v * v
		m.n++
		if m.n < m.tickSamples {
			continue
		}
		rms := math.Sqrt(m.sumSq / float64(m.n))
		m.sumSq, m.n = 0, 0
		if e := m.tick(rms >= signalMinRMS); e > ev {
			ev = e
		}
	}
	return ev
}

func (m *levelMonitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *levelMonitor) tick(hasSignal bool) levelEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.signalCount--
	}
	m.window[idx] = hasSignal
	if hasSignal {
		m.signalCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)

	if m.idleStop && m.ticks >= m.windowSz && float64(m.signalCount)/float64(m.windowSz) < signalMinRatio {
		return levelIdle
	}
	if m.ticks >= m.warnAt && r < signalMinRatio && !m.warned {
		m.warned = true
		return levelSilent
	}
	if m.warned && r >= signalClearRatio {
		m.warned = false
		return levelRestored
	}
	return levelNone
}
