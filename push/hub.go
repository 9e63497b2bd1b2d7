package push

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// SendFunc returns true if data was successfully sent
type SendFunc func([]byte) bool

type Subscriber struct {
	send SendFunc
}

// Subscribers is a list as a job can be watched by more than one client
type Subscribers []*Subscriber

// Hub delivers job events to the websocket clients watching each job
type Hub struct {
	jobs cmap.ConcurrentMap[string, Subscribers]
}

func NewHub() *Hub {
	return &Hub{jobs: cmap.New[Subscribers]()}
}

// Subscribe registers a client for the events of a job. The returned function removes it
func (h *Hub) Subscribe(jobID string, send SendFunc) (unsubscribe func()) {
	s := &Subscriber{send: send}
	h.jobs.Upsert(jobID, Subscribers{s}, func(exist bool, valueInMap, newValue Subscribers) Subscribers {
		if exist {
			return append(valueInMap, s)
		}
		return newValue
	})
	return func() { h.remove(jobID, s) }
}

func (h *Hub) remove(jobID string, s *Subscriber) {
	h.jobs.Upsert(jobID, Subscribers{}, func(exist bool, valueInMap, newValue Subscribers) Subscribers {
		if !exist {
			return newValue
		}
		for _, other := range valueInMap {
			if other != s {
				newValue = append(newValue, other)
			}
		}
		return newValue
	})
	h.jobs.RemoveCb(jobID, func(key string, v Subscribers, exists bool) bool {
		return exists && len(v) == 0
	})
}

func (h *Hub) Count(jobID string) int {
	list, _ := h.jobs.Get(jobID)
	return len(list)
}

// Emit sends the event to the job's subscribers. Subscribers that fail to receive it are dropped
func (h *Hub) Emit(event JobEvent) error {
	list, ok := h.jobs.Get(event.JobID)
	if !ok {
		return nil
	}
	data := event.JSON()
	for _, s := range list {
		if !s.send(data) {
			h.remove(event.JobID, s)
		}
	}
	return nil
}
