package connection

// EventKind enumerates the transport events that drive the state machine.
type EventKind string

const (
	EventInitialize   EventKind = "INITIALIZE"
	EventQRReceived   EventKind = "QR_RECEIVED"
	EventQRScanned    EventKind = "QR_SCANNED"
	EventConnected    EventKind = "CONNECTED"
	EventDisconnected EventKind = "DISCONNECTED"
	EventError        EventKind = "ERROR"
	EventReset        EventKind = "RESET"
)

// Event is a transport event with its payload.
type Event struct {
	Kind        EventKind
	QRCode      string
	Account     *AccountInfo
	Reason      string
	Message     string
	Recoverable bool
}

func Initialize() Event                { return Event{Kind: EventInitialize} }
func QRReceived(code string) Event     { return Event{Kind: EventQRReceived, QRCode: code} }
func QRScanned() Event                 { return Event{Kind: EventQRScanned} }
func Connected(acc *AccountInfo) Event { return Event{Kind: EventConnected, Account: acc} }
func Disconnected(reason string) Event { return Event{Kind: EventDisconnected, Reason: reason} }
func Reset() Event                     { return Event{Kind: EventReset} }

// Failure builds an ERROR event.
func Failure(msg string, recoverable bool) Event {
	return Event{Kind: EventError, Message: msg, Recoverable: recoverable}
}
