package signaling

import (
	"sync"
)

// Dispatcher fans received envelopes and presence events out to the
// subscriptions of one joined topic. Delivery never blocks the producer: items
// are queued without bound and handed over in order by a single goroutine,
// which is also the only closer of the channels it returns.
type Dispatcher struct {
	mutex         sync.Mutex
	queue         []dispatchItem
	wake          chan struct{}
	subscriptions map[*subscription]struct{}
	presence      chan PresenceEvent
	done          chan struct{}
	closeOnce     sync.Once
}

type dispatchItem struct {
	envelope *Envelope
	presence *PresenceEvent
}

type subscription struct {
	event     string
	channel   chan Envelope
	cancelled chan struct{}
	once      sync.Once
}

func NewDispatcher() *Dispatcher {
	dispatcher := &Dispatcher{
		wake:          make(chan struct{}, 1),
		subscriptions: make(map[*subscription]struct{}),
		presence:      make(chan PresenceEvent, 16),
		done:          make(chan struct{}),
	}

	go dispatcher.run()
	return dispatcher
}

func (d *Dispatcher) Subscribe(event string) (<-chan Envelope, func()) {
	sub := &subscription{
		event:     event,
		channel:   make(chan Envelope, 64),
		cancelled: make(chan struct{}),
	}

	d.mutex.Lock()
	select {
	case <-d.done:
		close(sub.channel)
	default:
		d.subscriptions[sub] = struct{}{}
	}
	d.mutex.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			close(sub.cancelled)
			d.push(dispatchItem{})
		})
	}

	return sub.channel, cancel
}

func (d *Dispatcher) Presence() <-chan PresenceEvent {
	return d.presence
}

func (d *Dispatcher) DeliverEnvelope(envelope Envelope) {
	d.push(dispatchItem{envelope: &envelope})
}

func (d *Dispatcher) DeliverPresence(event PresenceEvent) {
	d.push(dispatchItem{presence: &event})
}

// Close stops the delivery. Queued items that were not handed over yet are
// dropped and every channel returned by the dispatcher gets closed.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

// Done is closed once Close has been called.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) Closed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) push(item dispatchItem) {
	d.mutex.Lock()
	d.queue = append(d.queue, item)
	d.mutex.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer func() {
		d.mutex.Lock()
		for sub := range d.subscriptions {
			close(sub.channel)
			delete(d.subscriptions, sub)
		}
		d.queue = nil
		d.mutex.Unlock()
		close(d.presence)
	}()

	for {
		select {
		case <-d.wake:
		case <-d.done:
			return
		}

		d.mutex.Lock()
		items := d.queue
		d.queue = nil
		d.mutex.Unlock()

		for _, item := range items {
			switch {
			case item.presence != nil:
				select {
				case d.presence <- *item.presence:
				case <-d.done:
					return
				}
			case item.envelope != nil:
				for _, sub := range d.subscribersOf(item.envelope.Event) {
					select {
					case sub.channel <- *item.envelope:
					case <-sub.cancelled:
					case <-d.done:
						return
					}
				}
			}
		}

		d.reapCancelled()
	}
}

func (d *Dispatcher) subscribersOf(event string) []*subscription {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var subs []*subscription
	for sub := range d.subscriptions {
		if sub.event != event {
			continue
		}

		select {
		case <-sub.cancelled:
		default:
			subs = append(subs, sub)
		}
	}

	return subs
}

func (d *Dispatcher) reapCancelled() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for sub := range d.subscriptions {
		select {
		case <-sub.cancelled:
			close(sub.channel)
			delete(d.subscriptions, sub)
		default:
		}
	}
}
