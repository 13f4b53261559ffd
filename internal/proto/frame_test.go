package proto

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTripCompressed(t *testing.T) {
	payload := []byte(strings.Repeat(`{"id":"A-1-00","from":"A","to":"ALL"}`, 64))
	frame, err := EncodeFrame(KindPush, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if frame[4]&FlagCompressed == 0 {
		t.Fatalf("expected repetitive payload to be compressed")
	}
	if len(frame) >= len(payload) {
		t.Fatalf("compressed frame not smaller: %d >= %d", len(frame), len(payload))
	}
	got, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got.Kind != KindPush || !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestFrameRoundTripSmall(t *testing.T) {
	payload := []byte(`{"x":1}`)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, KindReply, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := WriteFrame(&buf, KindError, []byte("busy")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	first, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if first.Kind != KindReply || !bytes.Equal(first.Payload, payload) {
		t.Fatalf("unexpected first frame: %+v", first)
	}
	second, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if second.Kind != KindError || string(second.Payload) != "busy" {
		t.Fatalf("unexpected second frame: %+v", second)
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameRejectsCorruption(t *testing.T) {
	payload := []byte(strings.Repeat("abcdefgh", 32))
	frame, err := EncodeFrame(KindPush, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	cases := map[string]func([]byte) []byte{
		"magic":     func(b []byte) []byte { b[0] = 'X'; return b },
		"version":   func(b []byte) []byte { b[2] = 9; return b },
		"kind":      func(b []byte) []byte { b[3] = 0; return b },
		"flags":     func(b []byte) []byte { b[4] = 0x80; return b },
		"truncated": func(b []byte) []byte { return b[:len(b)-3] },
		"header":    func(b []byte) []byte { return b[:5] },
		"raw size":  func(b []byte) []byte { b[8]++; return b },
	}
	for name, mutate := range cases {
		data := mutate(append([]byte(nil), frame...))
		if _, err := DecodeFrame(data); !errors.Is(err, ErrBadFrame) {
			t.Fatalf("%s: expected ErrBadFrame, got %v", name, err)
		}
	}
}

func TestFrameSizeLimits(t *testing.T) {
	if _, err := EncodeFrame(KindPush, nil); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected empty payload rejected, got %v", err)
	}
	if _, err := EncodeFrame(Kind(7), []byte("x")); !errors.Is(err, ErrBadFrame) {
		t.Fatalf("expected unknown kind rejected, got %v", err)
	}
	big := make([]byte, MaxFrameSize+1)
	if _, err := EncodeFrame(KindPush, big); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	hdr := []byte{'S', 'C', Version, byte(KindPush), 0, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if _, err := DecodeFrame(hdr); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected oversize header rejected, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	if KindPush.String() != "push" || KindReply.String() != "reply" || KindError.String() != "error" {
		t.Fatalf("unexpected kind names")
	}
	if Kind(9).String() != "kind(9)" {
		t.Fatalf("unexpected unknown kind name: %s", Kind(9))
	}
}
