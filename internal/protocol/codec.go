// Package protocol encodes and decodes the desk control box GATT payloads.
//
// All multi-byte values are little-endian. Positions and speeds are reported in
// tenths of a millimetre (per second) relative to the lowest desk height.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// DefaultBaseHeightMm is the desk height reported for a raw position of zero.
	DefaultBaseHeightMm = 680

	// TravelMm is the physical travel range of the reference desk above its base height.
	TravelMm = 650

	// PositionPayloadLen is the minimum length of a position notification.
	PositionPayloadLen = 4

	rawUnitsPerMm = 10
)

// Control opcodes written to the control characteristic.
const (
	OpMoveDown byte = 0x46
	OpMoveUp   byte = 0x47
	OpWakeup   byte = 0xFE
	OpStop     byte = 0xFF
)

// Activation (DPG) framing.
const (
	ActivationPrefix  byte = 0x7F
	ActivationUserID  byte = 0x86
	ActivationRead    byte = 0x00
	ActivationWrite   byte = 0x80
	ActivationSuccess byte = 0x01
	// ActivationHeaderLen is the length of the response header preceding the user id.
	ActivationHeaderLen = 2
)

// Direction of an up/down move.
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
)

func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

// DirectionTo returns the direction that moves from current toward target.
func DirectionTo(currentMm, targetMm int) Direction {
	if targetMm >= currentMm {
		return DirectionUp
	}
	return DirectionDown
}

// DecodeError is returned for malformed telemetry payloads.
type DecodeError struct {
	Len int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("position payload too short: got %d bytes, want %d", e.Len, PositionPayloadLen)
}

// Telemetry is a decoded position notification.
type Telemetry struct {
	HeightMm int
	SpeedRaw int16 // tenths of mm/s, negative while lowering
}

// SpeedMmPerSec returns the speed in millimetres per second.
func (t Telemetry) SpeedMmPerSec() float64 {
	return float64(t.SpeedRaw) / rawUnitsPerMm
}

// Moving reports whether the desk reported a non-zero speed.
func (t Telemetry) Moving() bool {
	return t.SpeedRaw != 0
}

// Codec converts between raw payloads and millimetres for a given base height.
type Codec struct {
	BaseHeightMm int
}

// DefaultCodec uses the reference desk's base height.
var DefaultCodec = Codec{BaseHeightMm: DefaultBaseHeightMm}

// DecodePosition decodes a position notification or read.
func (c Codec) DecodePosition(b []byte) (Telemetry, error) {
	if len(b) < PositionPayloadLen {
		return Telemetry{}, &DecodeError{Len: len(b)}
	}
	raw := int(binary.LittleEndian.Uint16(b[0:2]))
	speed := int16(binary.LittleEndian.Uint16(b[2:4]))
	return Telemetry{
		HeightMm: c.BaseHeightMm + (raw+rawUnitsPerMm/2)/rawUnitsPerMm,
		SpeedRaw: speed,
	}, nil
}

// EncodePosition is the inverse of DecodePosition. Heights below the base encode as zero.
func (c Codec) EncodePosition(t Telemetry) []byte {
	raw := clamp((t.HeightMm-c.BaseHeightMm)*rawUnitsPerMm, 0, math.MaxUint16)
	b := make([]byte, PositionPayloadLen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(raw))
	binary.LittleEndian.PutUint16(b[2:4], uint16(t.SpeedRaw))
	return b
}

// EncodeReferenceTarget encodes an absolute target height for the reference-input
// characteristic. Targets below the base height encode as negative offsets.
func (c Codec) EncodeReferenceTarget(heightMm int) []byte {
	raw := clamp((heightMm-c.BaseHeightMm)*rawUnitsPerMm, math.MinInt16, math.MaxInt16)
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(int16(raw)))
	return b
}

// Plausible reports whether t lies within the desk's physical travel range.
// Values outside it usually mean a decode or scaling error.
func (c Codec) Plausible(t Telemetry) bool {
	return t.HeightMm >= c.BaseHeightMm && t.HeightMm <= c.BaseHeightMm+TravelMm
}

// DecodePosition decodes using the reference base height.
func DecodePosition(b []byte) (Telemetry, error) {
	return DefaultCodec.DecodePosition(b)
}

// EncodeReferenceTarget encodes using the reference base height.
func EncodeReferenceTarget(heightMm int) []byte {
	return DefaultCodec.EncodeReferenceTarget(heightMm)
}

func EncodeWakeup() []byte { return command(OpWakeup) }

func EncodeStop() []byte { return command(OpStop) }

// EncodeMove returns the move-while-held command for the given direction.
func EncodeMove(dir Direction) []byte {
	if dir == DirectionUp {
		return command(OpMoveUp)
	}
	return command(OpMoveDown)
}

// EncodeActivationRead returns the frame requesting the stored user id.
func EncodeActivationRead() []byte {
	return []byte{ActivationPrefix, ActivationUserID, ActivationRead}
}

// EncodeActivationWrite returns the frame storing userID on the desk.
func EncodeActivationWrite(userID []byte) []byte {
	frame := make([]byte, 0, 3+len(userID))
	frame = append(frame, ActivationPrefix, ActivationUserID, ActivationWrite)
	return append(frame, userID...)
}

// command frames an opcode as the 16-bit little-endian control word.
func command(op byte) []byte {
	return []byte{op, 0x00}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
