// Package p2p implements the P2P Transport: a WebRTC data channel carrying
// the fixed binary wire protocol from spec.md §4.7, plus connection
// lifecycle (ping/pong RTT, keepalive, ICE-restart-class reconnection with
// a grace window, and fallback to the signaling relay when the channel
// isn't open).
package p2p

import (
	"encoding/binary"
	"fmt"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/hasher"
)

// Tag identifies a wire message's binary layout.
type Tag byte

const (
	TagInputBundle  Tag = 0x01
	TagPing         Tag = 0x02
	TagPong         Tag = 0x03
	TagKeepalive    Tag = 0x04
	TagEpisodeEnd   Tag = 0x05
	TagEpisodeReady Tag = 0x06
	TagFrameDigest  Tag = 0x07
)

// UnknownTagError is a protocol violation: an unrecognized message tag ends
// the session per spec.md §7.
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("p2p: unknown wire tag 0x%02x", e.Tag)
}

// InputBundleEntry is one (frame, index, action) triple within an input
// bundle message.
type InputBundleEntry struct {
	Frame  frame.Number
	Index  frame.ParticipantIndex
	Action frame.Action
}

// EncodeInputBundle packs entries as repeated (uint32 frame, uint16 index,
// varint action) triples behind the 0x01 tag, per spec.md §4.7/§6.
func EncodeInputBundle(entries []InputBundleEntry) []byte {
	buf := make([]byte, 1, 1+len(entries)*11)
	buf[0] = byte(TagInputBundle)
	var tmp [binary.MaxVarintLen64]byte
	for _, e := range entries {
		var fb [4]byte
		binary.BigEndian.PutUint32(fb[:], uint32(e.Frame))
		buf = append(buf, fb[:]...)
		var ib [2]byte
		binary.BigEndian.PutUint16(ib[:], uint16(e.Index))
		buf = append(buf, ib[:]...)
		n := binary.PutUvarint(tmp[:], uint64(e.Action))
		buf = append(buf, tmp[:n]...)
	}
	return buf
}

// DecodeInputBundle parses a 0x01 message's payload (tag already stripped
// by the caller via DecodeTag, so b here starts right after the tag byte).
func DecodeInputBundle(b []byte) ([]InputBundleEntry, error) {
	var entries []InputBundleEntry
	for len(b) > 0 {
		if len(b) < 6 {
			return nil, fmt.Errorf("p2p: truncated input bundle entry")
		}
		f := binary.BigEndian.Uint32(b[0:4])
		idx := binary.BigEndian.Uint16(b[4:6])
		action, n := binary.Uvarint(b[6:])
		if n <= 0 {
			return nil, fmt.Errorf("p2p: invalid varint action")
		}
		entries = append(entries, InputBundleEntry{
			Frame:  frame.Number(f),
			Index:  frame.ParticipantIndex(idx),
			Action: frame.Action(action),
		})
		b = b[6+n:]
	}
	return entries, nil
}

// EncodePing encodes a ping message carrying a millisecond timestamp.
func EncodePing(timestampMillis int64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TagPing)
	binary.BigEndian.PutUint64(buf[1:], uint64(timestampMillis))
	return buf
}

// DecodePing reads a ping payload (tag stripped).
func DecodePing(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("p2p: ping payload must be 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// EncodePong echoes the original ping timestamp back.
func EncodePong(originalTimestampMillis int64) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TagPong)
	binary.BigEndian.PutUint64(buf[1:], uint64(originalTimestampMillis))
	return buf
}

// DecodePong reads a pong payload (tag stripped).
func DecodePong(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("p2p: pong payload must be 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// EncodeKeepalive encodes the tag-only keepalive message.
func EncodeKeepalive() []byte {
	return []byte{byte(TagKeepalive)}
}

// EncodeEpisodeEnd encodes the final frame marker.
func EncodeEpisodeEnd(final frame.Number) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagEpisodeEnd)
	binary.BigEndian.PutUint32(buf[1:], uint32(final))
	return buf
}

// DecodeEpisodeEnd reads an episode-end payload (tag stripped).
func DecodeEpisodeEnd(b []byte) (frame.Number, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("p2p: episode-end payload must be 4 bytes, got %d", len(b))
	}
	return frame.Number(binary.BigEndian.Uint32(b)), nil
}

// EncodeEpisodeReady encodes the session seed and start frame.
func EncodeEpisodeReady(seed uint32, start frame.Number) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(TagEpisodeReady)
	binary.BigEndian.PutUint32(buf[1:5], seed)
	binary.BigEndian.PutUint32(buf[5:9], uint32(start))
	return buf
}

// DecodeEpisodeReady reads an episode-ready payload (tag stripped).
func DecodeEpisodeReady(b []byte) (seed uint32, start frame.Number, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("p2p: episode-ready payload must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b[0:4]), frame.Number(binary.BigEndian.Uint32(b[4:8])), nil
}

// EncodeFrameDigest encodes a frame digest message: exactly 13 bytes total
// (1-byte tag, 4-byte frame, 8-byte digest) per spec.md §4.6.
func EncodeFrameDigest(f frame.Number, d hasher.Digest) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(TagFrameDigest)
	binary.BigEndian.PutUint32(buf[1:5], uint32(f))
	copy(buf[5:13], d[:])
	return buf
}

// DecodeFrameDigest reads a frame-digest payload (tag stripped).
func DecodeFrameDigest(b []byte) (frame.Number, hasher.Digest, error) {
	if len(b) != 12 {
		return 0, hasher.Digest{}, fmt.Errorf("p2p: frame-digest payload must be 12 bytes, got %d", len(b))
	}
	var d hasher.Digest
	copy(d[:], b[4:12])
	return frame.Number(binary.BigEndian.Uint32(b[0:4])), d, nil
}

// DecodeTag splits a raw message into its tag and remaining payload.
func DecodeTag(msg []byte) (Tag, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, fmt.Errorf("p2p: empty message")
	}
	return Tag(msg[0]), msg[1:], nil
}
