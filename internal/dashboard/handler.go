package dashboard

import (
	"encoding/json"
	"log"
	"os"

	"github.com/J4sp3rd3v/cutburn-sub000/internal/queue"
	"github.com/J4sp3rd3v/cutburn-sub000/internal/syncengine"
)

// ConnectivityData is the payload of a connectivity message
type ConnectivityData struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

// PendingData is the payload of a pending message
type PendingData struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"dead_letters"`
}

// SyncCompleteData is the payload of a sync_complete message
type SyncCompleteData struct {
	Report    queue.DrainReport `json:"report"`
	Pending   int               `json:"pending"`
	LastError string            `json:"last_error,omitempty"`
}

// DeadLetterData is the payload of a dead_letter message
type DeadLetterData struct {
	DeadLetters int    `json:"dead_letters"`
	Error       string `json:"error,omitempty"`
}

// Handler turns sync engine events into status messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a status server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// OnEvent formats ev and broadcasts it. It is safe to pass directly to
// syncengine.Engine.Subscribe: it never blocks.
func (h *Handler) OnEvent(ev syncengine.Event) {
	var (
		typ  MessageType
		data any
	)

	switch ev.Type {
	case syncengine.EventConnectivity:
		typ = MessageTypeConnectivity
		data = ConnectivityData{Online: ev.Online, Pending: ev.Pending}
	case syncengine.EventPending:
		typ = MessageTypePending
		data = PendingData{Pending: ev.Pending, DeadLetters: ev.DeadLetters}
	case syncengine.EventSyncComplete:
		typ = MessageTypeSyncComplete
		d := SyncCompleteData{Pending: ev.Pending, LastError: ev.Error}
		if ev.Report != nil {
			d.Report = *ev.Report
		}
		data = d
	case syncengine.EventDeadLetter:
		typ = MessageTypeDeadLetter
		data = DeadLetterData{DeadLetters: ev.DeadLetters, Error: ev.Error}
	default:
		h.logger.Printf("Ignoring unknown event type %q", ev.Type)
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: ev.At,
		Data:      dataJSON,
	})
}
