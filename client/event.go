package client

type EventType int

const (
	EventDirect EventType = iota + 1
	EventPublic
	EventAdvertise
	EventRemove
	EventUserList
	EventFile
	EventAck
	EventError
)

// Converts EventType to string
func (e EventType) String() string {
	switch e {
	case EventDirect:
		return "EventDirect"
	case EventPublic:
		return "EventPublic"
	case EventAdvertise:
		return "EventAdvertise"
	case EventRemove:
		return "EventRemove"
	case EventUserList:
		return "EventUserList"
	case EventFile:
		return "EventFile"
	case EventAck:
		return "EventAck"
	case EventError:
		return "EventError"
	}

	return ""
}

// Event is one thing that happened on the link: a decrypted message, a
// presence change, a completed file, or an error from the server.
type Event struct {
	eventType EventType
	sender    string   // user or server id the event originated from
	msg       []byte   // decrypted payload for Direct/Public/File
	users     []string // user ids for UserList
	fileName  string   // original name for File events
	msgRef    string   // acknowledged frame type for Ack events
	code      string   // error code for Error events
	detail    string   // error detail for Error events
}

// Returns event type, which is a EventType.
func (e *Event) Type() EventType {
	return e.eventType
}

// Returns the sender's id as a string.
func (e *Event) Sender() string {
	return e.sender
}

// Returns the decrypted message payload.
func (e *Event) Msg() []byte {
	return e.msg
}

// Returns the user list for a UserList event.
func (e *Event) Users() []string {
	return e.users
}

// Returns the original file name for a File event.
func (e *Event) FileName() string {
	return e.fileName
}

// Returns the acknowledged frame type for an Ack event.
func (e *Event) MsgRef() string {
	return e.msgRef
}

// Returns the error code for an Error event.
func (e *Event) Code() string {
	return e.code
}

// Returns the error detail for an Error event.
func (e *Event) Detail() string {
	return e.detail
}
