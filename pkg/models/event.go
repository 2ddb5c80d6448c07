package models

// RemoteEvent is one message as delivered by the remote log subscription,
// historical backlog and live updates alike. Delivery is at-least-once and
// order is not guaranteed; the engine owns dedup and ordering.
type RemoteEvent struct {
	ID             string    `json:"id"`
	CorrelationKey string    `json:"correlation_key,omitempty"`
	Thread         ThreadRef `json:"thread"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	CreatedAt      int64     `json:"created_at"`
	Payload        Payload   `json:"payload"`
}

// MatchKey is the value used to look for a pending placeholder: the
// round-tripped correlation key when present, the remote id otherwise.
func (e *RemoteEvent) MatchKey() string {
	if e.CorrelationKey != "" {
		return e.CorrelationKey
	}
	return e.ID
}

// Profile is a resolved sender identity used to enrich incoming events.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
