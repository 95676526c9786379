package stream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hazelv/bluewire/internal/link"
)

func TestAdapterReadWrite(t *testing.T) {
	a, b := link.Pipe()
	left, right := NewAdapter(a), NewAdapter(b)
	defer left.Close()
	defer right.Close()

	want := []byte("over the wire")
	go func() {
		if err := left.Write(want); err != nil {
			t.Errorf("Write failed: %v", err)
		}
	}()

	var got []byte
	for len(got) < len(want) {
		chunk, err := right.Read()
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, chunk...)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAdapterReadAfterPeerClose(t *testing.T) {
	a, b := link.Pipe()
	left, right := NewAdapter(a), NewAdapter(b)
	defer right.Close()

	left.Close()

	_, err := right.Read()
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransportError", err)
	}
	if te.Kind != KindClosed {
		t.Fatalf("got kind %d, want KindClosed", te.Kind)
	}
}

func TestAdapterWriteAfterPeerClose(t *testing.T) {
	a, b := link.Pipe()
	left, right := NewAdapter(a), NewAdapter(b)
	defer left.Close()

	right.Close()

	err := left.Write([]byte("into the void"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TransportError", err)
	}
}
