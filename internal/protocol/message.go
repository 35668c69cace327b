// Package protocol implements the relay wire format.
//
// Every control message travels as a frame: a 4-byte big-endian length
// followed by a body encoded in protobuf wire format with a fixed, hand
// written schema (see codec.go). Media datagrams use the same encoding for
// their small {username, payload} envelope (see datagram.go).
//
// The decoder never builds types chosen by the peer: a body is either one of
// the known message kinds, with known field numbers, or it is rejected.
package protocol

import "fmt"

// Kind tags a message record.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRegister
	KindUDPPortRegister
	KindChat
	KindFileMeta
	KindFileData
	KindFileRequest
	KindScreenStart
	KindScreenStop
	KindScreenFrame
	KindUserList
)

var kindNames = map[Kind]string{
	KindRegister:        "register",
	KindUDPPortRegister: "udp_port_register",
	KindChat:            "chat",
	KindFileMeta:        "file_meta",
	KindFileData:        "file_data",
	KindFileRequest:     "file_request",
	KindScreenStart:     "screen_start",
	KindScreenStop:      "screen_stop",
	KindScreenFrame:     "screen_frame",
	KindUserList:        "user_list",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Message is the single record type carried by a frame. Which fields are
// meaningful depends on Kind; unused fields stay at their zero value and are
// not written to the wire.
type Message struct {
	Kind     Kind
	Username string

	// Chat
	Text string

	// File transfer
	Filename string
	Size     int64
	Offset   int64

	// FileData and ScreenFrame payloads, kept byte-for-byte.
	Data []byte

	// UdpPortRegister; 0 means "not announced".
	VideoPort int
	AudioPort int

	// UserList
	Users []string

	// Free-form key/value metadata, relayed untouched.
	Meta map[string]string
}

func NewRegister(username string) *Message {
	return &Message{Kind: KindRegister, Username: username}
}

func NewUDPPortRegister(username string, videoPort, audioPort int) *Message {
	return &Message{Kind: KindUDPPortRegister, Username: username, VideoPort: videoPort, AudioPort: audioPort}
}

func NewChat(username, text string) *Message {
	return &Message{Kind: KindChat, Username: username, Text: text}
}

func NewFileMeta(username, filename string, size int64) *Message {
	return &Message{Kind: KindFileMeta, Username: username, Filename: filename, Size: size}
}

func NewFileData(username, filename string, offset int64, data []byte) *Message {
	return &Message{Kind: KindFileData, Username: username, Filename: filename, Offset: offset, Data: data}
}

func NewFileRequest(username, filename string, meta map[string]string) *Message {
	return &Message{Kind: KindFileRequest, Username: username, Filename: filename, Meta: meta}
}

func NewScreenStart(username string) *Message {
	return &Message{Kind: KindScreenStart, Username: username}
}

func NewScreenStop(username string) *Message {
	return &Message{Kind: KindScreenStop, Username: username}
}

func NewScreenFrame(username string, frame []byte) *Message {
	return &Message{Kind: KindScreenFrame, Username: username, Data: frame}
}

func NewUserList(users []string) *Message {
	return &Message{Kind: KindUserList, Users: users}
}
