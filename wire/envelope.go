// Package wire defines the SOCP frame catalogue: one UTF-8 JSON object per
// WebSocket text frame, with a transport signature over the canonical bytes
// of the payload. Constructors for each frame family live in their own file.
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/WillLehmann04/secure-programming/canon"
)

// Frame types.
const (
	TypeServerHelloJoin = "SERVER_HELLO_JOIN"
	TypeServerWelcome   = "SERVER_WELCOME"
	TypeServerAnnounce  = "SERVER_ANNOUNCE"
	TypeUserHello       = "USER_HELLO"
	TypeUserAdvertise   = "USER_ADVERTISE"
	TypeUserRemove      = "USER_REMOVE"
	TypeMsgDirect       = "MSG_DIRECT"
	TypeMsgPublic       = "MSG_PUBLIC_CHANNEL"
	TypePeerDeliver     = "PEER_DELIVER"
	TypeUserDeliver     = "USER_DELIVER"
	TypeFileStart       = "FILE_START"
	TypeFileChunk       = "FILE_CHUNK"
	TypeFileEnd         = "FILE_END"
	TypeHeartbeat       = "HEARTBEAT"
	TypeAck             = "ACK"
	TypeError           = "ERROR"
	TypeCmdList         = "CMD_LIST"
	TypeUserList        = "USER_LIST"
)

// Error codes carried in ERROR payloads.
const (
	ErrUserNotFound = "USER_NOT_FOUND"
	ErrInvalidSig   = "INVALID_SIG"
	ErrBadKey       = "BAD_KEY"
	ErrTimeout      = "TIMEOUT"
	ErrUnknownType  = "UNKNOWN_TYPE"
	ErrNameInUse    = "NAME_IN_USE"
)

// Broadcast is the wildcard recipient.
const Broadcast = "*"

// CloseNormal is the WebSocket close code used for every deliberate
// disconnect.
const CloseNormal = 1000

// AlgPS256 is the only signature algorithm on the wire.
const AlgPS256 = "PS256"

// Envelope is the outer frame.
type Envelope struct {
	Type    string                 `json:"type"`
	From    string                 `json:"from"`
	To      string                 `json:"to"`
	Ts      int64                  `json:"ts"`
	Payload map[string]interface{} `json:"payload"`
	Sig     string                 `json:"sig"`
	Alg     string                 `json:"alg,omitempty"`
}

// NowMS is the wire timestamp: integer milliseconds since the Unix epoch.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// New builds an unsigned envelope with a fresh timestamp.
func New(frameType, from, to string, payload map[string]interface{}) *Envelope {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Envelope{
		Type:    frameType,
		From:    from,
		To:      to,
		Ts:      NowMS(),
		Payload: payload,
	}
}

// Marshal renders one wire frame.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Parse reads one frame and runs the structure check: required fields
// present, payload an object, ts a number.
func Parse(raw []byte) (*Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.New("invalid_json")
	}
	for _, k := range []string{"type", "from", "to", "ts", "payload"} {
		if _, ok := probe[k]; !ok {
			return nil, fmt.Errorf("missing:%s", k)
		}
	}

	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.New("malformed_envelope")
	}
	if e.Payload == nil {
		return nil, errors.New("payload:not_object")
	}
	if e.Type == "" {
		return nil, errors.New("type:empty")
	}
	return &e, nil
}

// IsUUID4 reports whether s is a canonical version-4 UUID string.
func IsUUID4(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil || u.Version() != 4 {
		return false
	}
	return u.String() == s
}

// CheckFrom enforces the addressing rule: `from` must be a v4 UUID on every
// frame that names a sender.
func (e *Envelope) CheckFrom() error {
	if e.From == "" || e.From == Broadcast {
		return nil
	}
	if !IsUUID4(e.From) {
		return errors.New("from:not_uuid4")
	}
	return nil
}

// Fingerprint is the dedupe key: "{ts}|{from}|{to}|{hex(sha256(canonical(payload)))}".
func (e *Envelope) Fingerprint() (string, error) {
	b, err := canon.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%d|%s|%s|%s", e.Ts, e.From, e.To, hex.EncodeToString(sum[:])), nil
}

// payload field accessors, tolerant of JSON number widening

func (e *Envelope) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

func (e *Envelope) PayloadInt(key string) int64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
