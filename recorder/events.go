package recorder

import (
	"slices"
	"sync"
)

type Event int

const (
	EventStart Event = iota
	EventStop
	EventData
	EventError
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventData:
		return "data"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Subscription identifies one registered listener for Off.
type Subscription struct {
	Event Event
	id    uint64
}

type entry[F any] struct {
	id uint64
	fn F
}

// listeners holds handlers per event in registration order.
type listeners struct {
	mu     sync.Mutex
	next   uint64
	starts []entry[func(SessionInfo)]
	stops  []entry[func()]
	data   []entry[func(string)]
	errs   []entry[func(error)]
}

func (l *listeners) nextID() uint64 {
	l.next++
	return l.next
}

func (l *listeners) addStart(fn func(SessionInfo)) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID()
	l.starts = append(l.starts, entry[func(SessionInfo)]{id, fn})
	return Subscription{EventStart, id}
}

func (l *listeners) addStop(fn func()) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID()
	l.stops = append(l.stops, entry[func()]{id, fn})
	return Subscription{EventStop, id}
}

func (l *listeners) addData(fn func(string)) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID()
	l.data = append(l.data, entry[func(string)]{id, fn})
	return Subscription{EventData, id}
}

func (l *listeners) addError(fn func(error)) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID()
	l.errs = append(l.errs, entry[func(error)]{id, fn})
	return Subscription{EventError, id}
}

func without[F any](list []entry[F], id uint64) []entry[F] {
	return slices.DeleteFunc(slices.Clone(list), func(e entry[F]) bool { return e.id == id })
}

func (l *listeners) remove(s Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch s.Event {
	case EventStart:
		l.starts = without(l.starts, s.id)
	case EventStop:
		l.stops = without(l.stops, s.id)
	case EventData:
		l.data = without(l.data, s.id)
	case EventError:
		l.errs = without(l.errs, s.id)
	}
}

func (l *listeners) clear() {
	l.mu.Lock()
	l.starts, l.stops, l.data, l.errs = nil, nil, nil, nil
	l.mu.Unlock()
}

// emit calls every handler for it. Handlers run without the lock held and
// may subscribe, unsubscribe or drive the recorder.
func (l *listeners) emit(it item) {
	l.mu.Lock()
	starts, stops, data, errs := l.starts, l.stops, l.data, l.errs
	l.mu.Unlock()

	switch it.event {
	case EventStart:
		for _, e := range starts {
			e.fn(it.info)
		}
	case EventStop:
		for _, e := range stops {
			e.fn()
		}
	case EventData:
		for _, e := range data {
			e.fn(it.chunk)
		}
	case EventError:
		for _, e := range errs {
			e.fn(it.err)
		}
	}
}
