package p2p

import (
	"testing"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/hasher"
)

func TestInputBundleRoundTrip(t *testing.T) {
	entries := []InputBundleEntry{
		{Frame: 10, Index: 0, Action: 5},
		{Frame: 10, Index: 1, Action: 300},
		{Frame: 11, Index: 0, Action: 0},
	}
	encoded := EncodeInputBundle(entries)
	tag, payload, err := DecodeTag(encoded)
	if err != nil {
		t.Fatalf("DecodeTag: %v", err)
	}
	if tag != TagInputBundle {
		t.Fatalf("expected TagInputBundle, got 0x%02x", tag)
	}
	decoded, err := DecodeInputBundle(payload)
	if err != nil {
		t.Fatalf("DecodeInputBundle: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(decoded))
	}
	for i, e := range entries {
		if decoded[i] != e {
			t.Fatalf("entry %d mismatch: want %+v got %+v", i, e, decoded[i])
		}
	}
}

func TestFrameDigestIsExactly13Bytes(t *testing.T) {
	d := hasher.Digest{1, 2, 3, 4, 5, 6, 7, 8}
	encoded := EncodeFrameDigest(frame.Number(99), d)
	if len(encoded) != 13 {
		t.Fatalf("expected 13-byte frame-digest message, got %d", len(encoded))
	}
	tag, payload, err := DecodeTag(encoded)
	if err != nil {
		t.Fatalf("DecodeTag: %v", err)
	}
	if tag != TagFrameDigest {
		t.Fatalf("expected TagFrameDigest, got 0x%02x", tag)
	}
	f, gotDigest, err := DecodeFrameDigest(payload)
	if err != nil {
		t.Fatalf("DecodeFrameDigest: %v", err)
	}
	if f != 99 || gotDigest != d {
		t.Fatalf("round trip mismatch: frame=%d digest=%v", f, gotDigest)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	ping := EncodePing(1234567)
	tag, payload, err := DecodeTag(ping)
	if err != nil || tag != TagPing {
		t.Fatalf("decode ping tag: tag=%v err=%v", tag, err)
	}
	ts, err := DecodePing(payload)
	if err != nil || ts != 1234567 {
		t.Fatalf("decode ping payload: ts=%d err=%v", ts, err)
	}

	pong := EncodePong(ts)
	tag, payload, err = DecodeTag(pong)
	if err != nil || tag != TagPong {
		t.Fatalf("decode pong tag: tag=%v err=%v", tag, err)
	}
	got, err := DecodePong(payload)
	if err != nil || got != 1234567 {
		t.Fatalf("decode pong payload: got=%d err=%v", got, err)
	}
}

func TestDecodeTagRejectsEmptyMessage(t *testing.T) {
	if _, _, err := DecodeTag(nil); err == nil {
		t.Fatal("expected error decoding empty message")
	}
}

func TestEpisodeReadyRoundTrip(t *testing.T) {
	encoded := EncodeEpisodeReady(42, frame.Number(100))
	_, payload, err := DecodeTag(encoded)
	if err != nil {
		t.Fatalf("DecodeTag: %v", err)
	}
	seed, start, err := DecodeEpisodeReady(payload)
	if err != nil {
		t.Fatalf("DecodeEpisodeReady: %v", err)
	}
	if seed != 42 || start != 100 {
		t.Fatalf("round trip mismatch: seed=%d start=%d", seed, start)
	}
}
