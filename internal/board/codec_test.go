package board

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := Initial()
	put(&b, 4, 3, SideA, true)
	enc := b.Encode()
	if len(enc) != Size*Size {
		t.Fatalf("encoding length = %d, want %d", len(enc), Size*Size)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != b {
		t.Fatalf("round trip changed position:\n%s\n%s", enc, got.Encode())
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := Decode("x"); err == nil {
		t.Fatal("short input accepted")
	}
	enc := []byte(Initial().Encode())
	enc[0] = 'a' // (0,0) is a light square
	if _, err := Decode(string(enc)); err == nil {
		t.Fatal("piece on light square accepted")
	}
	enc[0] = '?'
	if _, err := Decode(string(enc)); err == nil {
		t.Fatal("unknown byte accepted")
	}
}
