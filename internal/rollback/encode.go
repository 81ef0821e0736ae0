package rollback

import (
	"encoding/binary"
	"sort"

	"github.com/gymsync/syncd/internal/frame"
)

func sortParticipantIndices(indices []frame.ParticipantIndex) {
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
}

func appendUint16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}
