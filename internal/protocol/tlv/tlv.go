// Package tlv implements the length-prefixed typed-record wire format shared
// by the lanchat server and its clients.
//
// Every unit on the wire is a record: a 4-byte header (type and payload
// length, both big-endian uint16) followed by exactly length payload bytes.
// The codec is stateless and works over any byte stream (TCP) or a single
// datagram (UDP discovery).
package tlv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderLen is the fixed size of the record header in bytes.
const HeaderLen = 4

// Protocol string limits. Name-like fields (login, password, display name,
// group name) carry 1..MaxNameLen bytes; messages carry up to MaxMessageLen.
const (
	MaxNameLen    = 31
	MaxMessageLen = 1024
)

// Record types. Values are fixed for wire compatibility.
const (
	TypeLogin       uint16 = 1
	TypePassword    uint16 = 2
	TypeCommand     uint16 = 3
	TypeMessage     uint16 = 4
	TypeUsername    uint16 = 5
	TypeGroupName   uint16 = 6
	TypeGroupInfo   uint16 = 7
	TypeGroupList   uint16 = 8
	TypeHistory     uint16 = 9
	TypeActiveUsers uint16 = 10
	TypeStatus      uint16 = 11
	TypeUint16      uint16 = 12

	TypeDiscover   uint16 = 100
	TypeServerInfo uint16 = 101
)

// Command codes carried in a TypeCommand record. The payload is a single
// uint32, transmitted big-endian.
type Command uint32

const (
	CmdLogin Command = iota + 1
	CmdLogout
	CmdCreateAccount
	CmdChangeUsername
	CmdChangePassword
	CmdGetActiveUsers
	CmdSendToUser
	CmdSendToGroup
	CmdCreateGroup
	CmdListGroups
	CmdJoinGroup
	CmdGetHistory
)

// String returns the command mnemonic, used in logs and metrics labels.
func (c Command) String() string {
	switch c {
	case CmdLogin:
		return "LOGIN"
	case CmdLogout:
		return "LOGOUT"
	case CmdCreateAccount:
		return "CREATE_ACCOUNT"
	case CmdChangeUsername:
		return "CHANGE_USERNAME"
	case CmdChangePassword:
		return "CHANGE_PASSWORD"
	case CmdGetActiveUsers:
		return "GET_ACTIVE_USERS"
	case CmdSendToUser:
		return "SEND_TO_USER"
	case CmdSendToGroup:
		return "SEND_TO_GROUP"
	case CmdCreateGroup:
		return "CREATE_GROUP"
	case CmdListGroups:
		return "LIST_GROUPS"
	case CmdJoinGroup:
		return "JOIN_GROUP"
	case CmdGetHistory:
		return "GET_HISTORY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(c))
	}
}

// Status codes carried in a TypeStatus record as a single big-endian uint32.
type Status uint32

const (
	StatusOK Status = iota
	StatusError
	StatusAuthenticationError
	StatusAlreadyLoggedIn
	StatusUserNotFound
	StatusAlreadyInGroup
	StatusGroupNotFound
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusAuthenticationError:
		return "AUTHENTICATION_ERROR"
	case StatusAlreadyLoggedIn:
		return "ALREADY_LOGGED_IN"
	case StatusUserNotFound:
		return "USER_NOT_FOUND"
	case StatusAlreadyInGroup:
		return "ALREADY_IN_GROUP"
	case StatusGroupNotFound:
		return "GROUP_NOT_FOUND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(s))
	}
}

// WriteRecord writes a single record (header + payload) to w.
//
// The payload may be nil or empty; the header is written either way. Short
// writes are retried by the underlying writer contract (io.Writer must not
// return a short count without an error), so any error aborts the record.
func WriteRecord(w io.Writer, typ uint16, payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("tlv: payload too large: %d bytes", len(payload))
	}

	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], typ)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tlv: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("tlv: write payload: %w", err)
		}
	}
	return nil
}

// ReadRecord reads exactly one record from r and returns its type and a
// freshly allocated payload. A zero-length record yields an empty non-nil
// slice. An io.EOF before any header byte is returned unwrapped so callers
// can distinguish a clean peer close from a mid-record truncation.
func ReadRecord(r io.Reader) (uint16, []byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("tlv: read header: %w", err)
	}

	typ := binary.BigEndian.Uint16(hdr[0:2])
	length := binary.BigEndian.Uint16(hdr[2:4])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("tlv: read payload (%d bytes): %w", length, err)
		}
	}
	return typ, payload, nil
}

// WriteCommand writes a TypeCommand record carrying the big-endian code.
func WriteCommand(w io.Writer, cmd Command) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(cmd))
	return WriteRecord(w, TypeCommand, buf[:])
}

// ParseCommand decodes a TypeCommand payload. The payload must be exactly
// four bytes.
func ParseCommand(payload []byte) (Command, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("tlv: command payload must be 4 bytes, got %d", len(payload))
	}
	return Command(binary.BigEndian.Uint32(payload)), nil
}

// WriteStatus writes a TypeStatus record carrying the big-endian code.
func WriteStatus(w io.Writer, st Status) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(st))
	return WriteRecord(w, TypeStatus, buf[:])
}

// ParseStatus decodes a TypeStatus payload.
func ParseStatus(payload []byte) (Status, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("tlv: status payload must be 4 bytes, got %d", len(payload))
	}
	return Status(binary.BigEndian.Uint32(payload)), nil
}

// WriteUint16 writes a TypeUint16 record carrying a big-endian uint16.
func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return WriteRecord(w, TypeUint16, buf[:])
}

// ParseUint16 decodes a TypeUint16 payload.
func ParseUint16(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("tlv: uint16 payload must be 2 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint16(payload), nil
}

// ValidName reports whether s is a legal login, password, display name or
// group name: 1..MaxNameLen bytes, no NUL and no newline (both would corrupt
// the line-oriented store files).
func ValidName(s string) bool {
	if len(s) == 0 || len(s) > MaxNameLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] == '\n' || s[i] == '/' {
			return false
		}
	}
	return true
}
