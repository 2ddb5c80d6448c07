package models

// ThreadKind distinguishes group rooms from one-to-one threads.
type ThreadKind string

const (
	ThreadRoom   ThreadKind = "room"
	ThreadDirect ThreadKind = "dm"
)

// ThreadRef identifies one message log on the remote side.
type ThreadRef struct {
	Kind ThreadKind `json:"kind"`
	ID   string     `json:"id"`
}

func (t ThreadRef) String() string { return string(t.Kind) + "/" + t.ID }

// Status is the lifecycle state of a message as rendered locally.
type Status string

const (
	StatusSending   Status = "sending"
	StatusUploading Status = "uploading"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// PayloadKind tags the payload variant.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadImage PayloadKind = "image"
	PayloadVideo PayloadKind = "video"
	PayloadFile  PayloadKind = "file"
)

// Payload is a tagged variant: exactly one case is populated, selected by
// Kind. Text carries the body for text messages; Ref points at an uploaded
// blob for media; Name/Size describe generic file attachments.
type Payload struct {
	Kind PayloadKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Ref  string      `json:"ref,omitempty"`
	Name string      `json:"name,omitempty"`
	Size int64       `json:"size,omitempty"`
}

// TextPayload builds a text payload.
func TextPayload(s string) Payload { return Payload{Kind: PayloadText, Text: s} }

// Message is the reconciled, renderable unit. The same record is shared by
// pointer between the pending table and the thread cache, so a status or
// progress transition is visible everywhere without a broadcast step.
type Message struct {
	ID             string    `json:"id"`
	CorrelationKey string    `json:"correlation_key,omitempty"`
	Thread         ThreadRef `json:"thread"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderAvatar   string    `json:"sender_avatar,omitempty"`
	// CreatedAt is epoch milliseconds; the sole sort key within a thread.
	CreatedAt int64   `json:"created_at"`
	Payload   Payload `json:"payload"`
	Status    Status  `json:"status"`
	// Progress is 0-100, meaningful only while Status is uploading.
	Progress int `json:"progress,omitempty"`
}

// Pending reports whether the message is still awaiting remote confirmation.
func (m *Message) Pending() bool {
	return m.Status == StatusSending || m.Status == StatusUploading
}
