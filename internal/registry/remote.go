package registry

import "time"

// Remote is one registered remote node in the cluster (§4.7).
type Remote struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Token        string    `json:"-"` // never serialized to API responses
	RegisteredAt time.Time `json:"registeredAt"`
	SessionIDs   []string  `json:"sessionIds"`

	failures int // consecutive health-check failures, not persisted
}

// Info is a Remote without its auth token, for API responses.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registeredAt"`
	SessionIDs   []string  `json:"sessionIds"`
	Healthy      bool      `json:"healthy"`
}

func (r *Remote) toInfo() Info {
	return Info{
		ID:           r.ID,
		Name:         r.Name,
		URL:          r.URL,
		RegisteredAt: r.RegisteredAt,
		SessionIDs:   append([]string(nil), r.SessionIDs...),
		Healthy:      r.failures == 0,
	}
}
