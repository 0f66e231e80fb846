package types

// CallStatus is the lifecycle state of the selected call session.
type CallStatus string

const (
	StatusIdle         CallStatus = "idle"
	StatusRinging      CallStatus = "ringing"
	StatusActive       CallStatus = "active"
	StatusTransferring CallStatus = "transferring"
	StatusEnded        CallStatus = "ended"
)

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerAI     Speaker = "ai"
	SpeakerCaller Speaker = "caller"
)

type TranscriptLine struct {
	ID   string  `json:"id"`
	Who  Speaker `json:"who"`
	Text string  `json:"text"`
	At   int     `json:"at"` // seconds from call start
}

// QueueStatus is the status shown in the call list. It is independent of CallStatus.
type QueueStatus string

const (
	QueueOngoing     QueueStatus = "Ongoing"
	QueueTransferred QueueStatus = "Transferred"
	QueueEnded       QueueStatus = "Ended"
)

type QueueItem struct {
	ID       string      `json:"id"`
	Hospital string      `json:"hospital"`
	By       string      `json:"by"`
	Stamp    string      `json:"stamp"`
	Status   QueueStatus `json:"status"`
}

// FeedHealth reports the connection state of a real-time feed.
type FeedHealth string

const (
	FeedConnecting   FeedHealth = "connecting"
	FeedOpen         FeedHealth = "open"
	FeedReconnecting FeedHealth = "reconnecting"
	FeedClosed       FeedHealth = "closed"
)

// FeedName distinguishes the queue-level feed from the per-call feed.
type FeedName string

const (
	FeedQueue FeedName = "queue"
	FeedCall  FeedName = "call"
)
