package apns

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tinywideclouds/go-push-dispatch/pkg/notification"
)

// Legacy binary protocol commands.
const (
	CommandSimple uint8 = 1
	CommandFramed uint8 = 2
)

// Frame item identifiers used by CommandFramed.
const (
	itemDeviceToken uint8 = 1
	itemPayload     uint8 = 2
	itemIdentifier  uint8 = 3
	itemExpiration  uint8 = 4
	itemPriority    uint8 = 5
)

const (
	tokenLength    = 32
	tokenHexLength = 2 * tokenLength
)

// Control holds the per-notification fields of the binary protocol that live outside
// the JSON payload. Expire is relative, in seconds; 0 means the notification never
// expires.
type Control struct {
	Command   uint8
	MessageID uint32
	Expire    uint32
	Priority  uint8
}

// DefaultControl is what a notification gets when neither the payload nor the provider
// configuration says otherwise.
var DefaultControl = Control{Command: CommandSimple, Priority: uint8(notification.PriorityHigh)}

// Payload keys lifted out of a raw payload into Control.
const (
	controlExpire    = "expire"
	controlMessageID = "messageID"
	controlPriority  = "priority"
	controlCommand   = "command"
)

// ResolveControl strips the control keys from payload and returns the effective
// Control next to the remaining payload. A key present in payload wins over defaults
// (zero fields in defaults are unset). priority is used only when neither the payload
// nor defaults set one. Values are coerced to absolute integers.
func ResolveControl(payload map[string]any, defaults Control, priority notification.Priority) (Control, map[string]any, error) {
	rest := make(map[string]any, len(payload))
	for k, v := range payload {
		rest[k] = v
	}

	ctrl := DefaultControl
	if defaults.Command != 0 {
		ctrl.Command = defaults.Command
	}
	ctrl.MessageID = defaults.MessageID
	ctrl.Expire = defaults.Expire
	if priority != 0 {
		ctrl.Priority = uint8(priority)
	}
	if defaults.Priority != 0 {
		ctrl.Priority = defaults.Priority
	}

	lift := func(key string, max uint64) (uint64, bool, error) {
		raw, ok := rest[key]
		if !ok {
			return 0, false, nil
		}
		delete(rest, key)
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return 0, false, &notification.ValidationError{Provider: providerLegacy, Msg: fmt.Sprintf("control field %q: %v", key, err)}
		}
		if n < 0 {
			n = -n
		}
		if uint64(n) > max {
			return 0, false, &notification.ValidationError{Provider: providerLegacy, Msg: fmt.Sprintf("control field %q out of range: %d", key, n)}
		}
		return uint64(n), true, nil
	}

	if v, ok, err := lift(controlExpire, 1<<32-1); err != nil {
		return ctrl, nil, err
	} else if ok {
		ctrl.Expire = uint32(v)
	}
	if v, ok, err := lift(controlMessageID, 1<<32-1); err != nil {
		return ctrl, nil, err
	} else if ok {
		ctrl.MessageID = uint32(v)
	}
	if v, ok, err := lift(controlPriority, 255); err != nil {
		return ctrl, nil, err
	} else if ok {
		ctrl.Priority = uint8(v)
	}
	if v, ok, err := lift(controlCommand, 255); err != nil {
		return ctrl, nil, err
	} else if ok {
		ctrl.Command = uint8(v)
	}
	return ctrl, rest, nil
}

// CleanDeviceToken strips surrounding brackets and spaces and every inner space, the
// way device tokens are often printed ("<aabb ccdd ...>").
func CleanDeviceToken(token string) string {
	return strings.ReplaceAll(strings.Trim(token, "<> "), " ", "")
}

// ValidateDeviceToken accepts exactly 64 hex characters.
func ValidateDeviceToken(provider, token string) error {
	if len(token) != tokenHexLength {
		return &notification.ValidationError{
			Provider: provider,
			Device:   token,
			Msg:      fmt.Sprintf("length must be %d chars but is %d", tokenHexLength, len(token)),
		}
	}
	if _, err := hex.DecodeString(token); err != nil {
		return &notification.ValidationError{Provider: provider, Device: token, Msg: "must be hexadecimal"}
	}
	return nil
}

func expiryAt(expire uint32, now time.Time) uint32 {
	if expire == 0 {
		return 0
	}
	return uint32(now.Unix()) + expire
}

// EncodeNotification renders one binary notification for token in the format selected
// by ctrl.Command.
func EncodeNotification(token string, payload []byte, ctrl Control, now time.Time) ([]byte, error) {
	cleaned := CleanDeviceToken(token)
	if err := ValidateDeviceToken(providerLegacy, cleaned); err != nil {
		return nil, err
	}
	tokenBytes, _ := hex.DecodeString(cleaned)
	if len(payload) > 0xFFFF {
		return nil, &notification.ValidationError{Provider: providerLegacy, Device: token, Msg: "payload too large"}
	}
	expiry := expiryAt(ctrl.Expire, now)

	buffer := new(bytes.Buffer)
	switch ctrl.Command {
	case CommandSimple:
		binary.Write(buffer, binary.BigEndian, CommandSimple)
		binary.Write(buffer, binary.BigEndian, ctrl.MessageID)
		binary.Write(buffer, binary.BigEndian, expiry)
		binary.Write(buffer, binary.BigEndian, uint16(tokenLength))
		buffer.Write(tokenBytes)
		binary.Write(buffer, binary.BigEndian, uint16(len(payload)))
		buffer.Write(payload)

	case CommandFramed:
		items := new(bytes.Buffer)
		writeItem(items, itemDeviceToken, tokenBytes)
		writeItem(items, itemPayload, payload)
		writeItem(items, itemIdentifier, binary.BigEndian.AppendUint32(nil, ctrl.MessageID))
		writeItem(items, itemExpiration, binary.BigEndian.AppendUint32(nil, expiry))
		writeItem(items, itemPriority, []byte{ctrl.Priority})

		binary.Write(buffer, binary.BigEndian, CommandFramed)
		binary.Write(buffer, binary.BigEndian, uint32(items.Len()))
		buffer.Write(items.Bytes())

	default:
		return nil, &notification.ValidationError{
			Provider: providerLegacy,
			Msg:      fmt.Sprintf("unknown command version %d", ctrl.Command),
		}
	}
	return buffer.Bytes(), nil
}

func writeItem(w *bytes.Buffer, id uint8, value []byte) {
	w.WriteByte(id)
	binary.Write(w, binary.BigEndian, uint16(len(value)))
	w.Write(value)
}

// DecodedNotification is a binary notification read back off the wire. Expiry is the
// absolute epoch written into the frame. Priority is only carried by CommandFramed.
type DecodedNotification struct {
	Command     uint8
	MessageID   uint32
	Expiry      uint32
	DeviceToken string
	Payload     []byte
	Priority    uint8
}

// DecodeNotification reads one notification of either format from r.
func DecodeNotification(r io.Reader) (*DecodedNotification, error) {
	var command uint8
	if err := binary.Read(r, binary.BigEndian, &command); err != nil {
		return nil, err
	}

	n := &DecodedNotification{Command: command}
	switch command {
	case CommandSimple:
		if err := binary.Read(r, binary.BigEndian, &n.MessageID); err != nil {
			return nil, fmt.Errorf("reading identifier: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &n.Expiry); err != nil {
			return nil, fmt.Errorf("reading expiry: %w", err)
		}
		token, err := readSized(r)
		if err != nil {
			return nil, fmt.Errorf("reading device token: %w", err)
		}
		n.DeviceToken = strings.ToUpper(hex.EncodeToString(token))
		if n.Payload, err = readSized(r); err != nil {
			return nil, fmt.Errorf("reading payload: %w", err)
		}
		return n, nil

	case CommandFramed:
		var frameLen uint32
		if err := binary.Read(r, binary.BigEndian, &frameLen); err != nil {
			return nil, fmt.Errorf("reading frame length: %w", err)
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		return n, decodeItems(bytes.NewReader(frame), n)
	}
	return nil, fmt.Errorf("unknown command version %d", command)
}

func decodeItems(r *bytes.Reader, n *DecodedNotification) error {
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return err
		}
		value, err := readSized(r)
		if err != nil {
			return fmt.Errorf("reading item %d: %w", id, err)
		}
		switch id {
		case itemDeviceToken:
			n.DeviceToken = strings.ToUpper(hex.EncodeToString(value))
		case itemPayload:
			n.Payload = value
		case itemIdentifier:
			if len(value) != 4 {
				return fmt.Errorf("identifier item has length %d", len(value))
			}
			n.MessageID = binary.BigEndian.Uint32(value)
		case itemExpiration:
			if len(value) != 4 {
				return fmt.Errorf("expiration item has length %d", len(value))
			}
			n.Expiry = binary.BigEndian.Uint32(value)
		case itemPriority:
			if len(value) != 1 {
				return fmt.Errorf("priority item has length %d", len(value))
			}
			n.Priority = value[0]
		default:
			return fmt.Errorf("unknown item %d", id)
		}
	}
	return nil
}

func readSized(r io.Reader) ([]byte, error) {
	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	value := make([]byte, size)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, err
	}
	return value, nil
}
