package grid

import (
	"context"
	"fmt"
	"testing"
)

func TestMuxServerDispatchesSingleHandler(t *testing.T) {
	s := NewMuxServer()
	s.Handle(HandlerPing, func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte("pong"), nil
	})

	var got Frame
	s.Dispatch(context.Background(), Frame{MuxID: 1, Handler: HandlerPing, Op: OpRequest}, func(f Frame) error {
		got = f
		return nil
	})
	if string(got.Payload) != "pong" {
		t.Fatalf("expected pong payload, got %q", got.Payload)
	}
	if got.MuxID != 1 {
		t.Fatalf("expected mux id to be echoed, got %d", got.MuxID)
	}
}

func TestMuxServerStreamHandlerEmitsEOF(t *testing.T) {
	s := NewMuxServer()
	s.HandleStream(HandlerReadShard, func(ctx context.Context, payload []byte, send func([]byte) error) error {
		for i := 0; i < 3; i++ {
			if err := send([]byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	})

	var frames []Frame
	s.Dispatch(context.Background(), Frame{MuxID: 9, Handler: HandlerReadShard, Op: OpRequest}, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	if len(frames) != 4 {
		t.Fatalf("expected 3 chunks + EOF frame, got %d frames", len(frames))
	}
	last := frames[len(frames)-1]
	if !last.Flags.Has(FlagEOF) || len(last.Payload) != 0 {
		t.Fatalf("expected zero-payload EOF terminator, got %+v", last)
	}
}

func TestMuxServerSubrouteDispatch(t *testing.T) {
	s := NewMuxServer()
	s.HandleSubroute("heal.object", func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("healed:"), payload...), nil
	})

	payload := EncodeSubroutePayload("heal.object", []byte("obj1"))
	var got Frame
	s.Dispatch(context.Background(), Frame{MuxID: 4, Op: OpRequest, Flags: FlagSubroute, Payload: payload}, func(f Frame) error {
		got = f
		return nil
	})
	if string(got.Payload) != "healed:obj1" {
		t.Fatalf("unexpected subroute response: %q", got.Payload)
	}
}

func TestMuxServerUnknownHandlerReturnsError(t *testing.T) {
	s := NewMuxServer()
	var got Frame
	s.Dispatch(context.Background(), Frame{MuxID: 2, Handler: HandlerHealBucket, Op: OpRequest}, func(f Frame) error {
		got = f
		return nil
	})
	if !got.Flags.Has(FlagEOF) || len(got.Payload) == 0 {
		t.Fatalf("expected an error payload for unregistered handler, got %+v", got)
	}
}

func TestMuxTableDeliverRoutesToWaiter(t *testing.T) {
	tbl := newMuxTable()
	id, ch := tbl.alloc()
	tbl.deliver(Frame{MuxID: id, Payload: []byte("resp")})
	select {
	case f := <-ch:
		if string(f.Payload) != "resp" {
			t.Fatalf("unexpected payload: %q", f.Payload)
		}
	default:
		t.Fatal("expected delivered frame to be available on channel")
	}
}

func TestMuxTableFailAllClosesPending(t *testing.T) {
	tbl := newMuxTable()
	_, ch1 := tbl.alloc()
	_, ch2 := tbl.alloc()
	tbl.failAll(fmt.Errorf("boom"))
	if _, ok := <-ch1; ok {
		t.Fatal("expected channel 1 to be closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected channel 2 to be closed")
	}
}
