package wire

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"
)

func mkBody(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func TestFrameRoundTrip(t *testing.T) {
	codec := Codec{}
	cases := []struct {
		kind Kind
		body []byte
	}{
		{KindGamePacket, mkBody(64)},
		{KindMatchComm, mkBody(1)},
		{KindInitComplete, nil},
		{KindBallPrediction, mkBody(MaxBodySize)},
	}
	for _, c := range cases {
		wireBytes, err := codec.Encode(c.kind, c.body)
		if err != nil {
			t.Fatalf("Encode(%s): %v", c.kind, err)
		}
		msg, err := codec.Decode(bytes.NewReader(wireBytes))
		if err != nil {
			t.Fatalf("Decode(%s): %v", c.kind, err)
		}
		if msg.Kind != c.kind {
			t.Fatalf("kind mismatch: got %s want %s", msg.Kind, c.kind)
		}
		if !bytes.Equal(msg.Body, c.body) && len(c.body) > 0 {
			t.Fatalf("body mismatch for %s", c.kind)
		}
		if len(c.body) == 0 && len(msg.Body) != 0 {
			t.Fatalf("expected empty body, got %d bytes", len(msg.Body))
		}
	}
}

func TestFrameEndianness(t *testing.T) {
	codec := Codec{}
	wireBytes, err := codec.Encode(KindFieldInfo, mkBody(0x0102))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if wireBytes[0] != 0x00 || wireBytes[1] != 0x02 {
		t.Fatalf("kind bytes = % X, want 00 02", wireBytes[:2])
	}
	if wireBytes[2] != 0x01 || wireBytes[3] != 0x02 {
		t.Fatalf("length bytes = % X, want 01 02", wireBytes[2:4])
	}
}

func TestEncodeRejectsOversizeBody(t *testing.T) {
	codec := Codec{}
	if _, err := codec.Encode(KindGamePacket, mkBody(MaxBodySize+1)); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	var buf bytes.Buffer
	if _, err := codec.EncodeTo(&buf, KindGamePacket, mkBody(MaxBodySize+1)); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversize encode emitted %d bytes", buf.Len())
	}
}

// oneByteReader delivers the underlying stream a single byte per Read call.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestDecodeSurvivesChunkedReads(t *testing.T) {
	codec := Codec{}
	body := mkBody(300)
	wireBytes, err := codec.Encode(KindMatchConfiguration, body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	msg, err := codec.Decode(oneByteReader{bytes.NewReader(wireBytes)})
	if err != nil {
		t.Fatalf("Decode over 1-byte chunks: %v", err)
	}
	if msg.Kind != KindMatchConfiguration || !bytes.Equal(msg.Body, body) {
		t.Fatalf("chunked decode mismatch")
	}
}

func TestDecodeTruncated(t *testing.T) {
	codec := Codec{}
	full, err := codec.Encode(KindGamePacket, mkBody(40000))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Header claims 40000 bytes but the stream ends after 20000.
	if _, err := codec.Decode(bytes.NewReader(full[:HeaderSize+20000])); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("truncated body: expected ErrTruncatedFrame, got %v", err)
	}

	// Header itself cut short.
	if _, err := codec.Decode(bytes.NewReader(full[:2])); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("truncated header: expected ErrTruncatedFrame, got %v", err)
	}

	// Clean boundary: plain EOF, not a truncation.
	if _, err := codec.Decode(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Fatalf("empty stream: expected io.EOF, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	if KindControllableTeamInfo.String() != "ControllableTeamInfo" {
		t.Fatalf("got %q", KindControllableTeamInfo.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Fatalf("got %q", Kind(99).String())
	}
}

func BenchmarkEncodeTo(b *testing.B) {
	codec := Codec{}
	body := mkBody(1024)
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = codec.EncodeTo(&buf, KindGamePacket, body)
	}
}
