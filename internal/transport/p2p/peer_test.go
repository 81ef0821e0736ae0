package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/rollback"
)

// TestLoopbackPeerConnectionDeliversInputBundle exercises a real pion
// PeerConnection pair over host-only ICE (no external servers), mirroring
// the teacher's own WebRTC loopback test shape.
func TestLoopbackPeerConnectionDeliversInputBundle(t *testing.T) {
	initTransport := New(0, nil, nil)
	respTransport := New(1, nil, nil)

	initPeer, err := NewPeer(Config{Initiator: true}, initTransport, nil)
	if err != nil {
		t.Fatalf("new initiator peer: %v", err)
	}
	defer initPeer.Close()

	respPeer, err := NewPeer(Config{Initiator: false}, respTransport, nil)
	if err != nil {
		t.Fatalf("new responder peer: %v", err)
	}
	defer respPeer.Close()

	offer, err := initPeer.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	answer, err := respPeer.CreateAnswer(offer)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := initPeer.AcceptAnswer(answer); err != nil {
		t.Fatalf("accept answer: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if len(respTransport.DrainInbound()) > 0 {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !initTransport.Open() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !initTransport.Open() {
		t.Fatal("initiator data channel never opened")
	}

	bundle := []rollback.InputEntry{{Frame: frame.Number(7), Index: 0, Action: 3}}
	if err := initTransport.SendBundle(context.Background(), bundle); err != nil {
		t.Fatalf("send input bundle: %v", err)
	}

	wg.Wait()
}
