package wire

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestArrayRoundTrip(t *testing.T) {
	cases := []*Array{
		{Data: []byte{}, Shape: []uint32{0}, Dtype: "float32"},
		{Data: []byte{1, 2, 3, 4}, Shape: []uint32{1, 4}, Dtype: "uint8"},
		{Data: bytes.Repeat([]byte{0xAB}, 8192), Shape: []uint32{8, 1024}, Dtype: "int64"},
	}
	for _, want := range cases {
		var buf Buffer
		want.Encode(&buf)
		got, err := DecodeArray(NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("data mismatch: got %v want %v", got.Data, want.Data)
		}
		if len(got.Shape) != len(want.Shape) {
			t.Fatalf("shape length mismatch: got %v want %v", got.Shape, want.Shape)
		}
		for i := range want.Shape {
			if got.Shape[i] != want.Shape[i] {
				t.Fatalf("shape[%d] mismatch: got %d want %d", i, got.Shape[i], want.Shape[i])
			}
		}
		if got.Dtype != want.Dtype {
			t.Fatalf("dtype mismatch: got %q want %q", got.Dtype, want.Dtype)
		}
	}
}

func TestArrayRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := r.Intn(10000)
		data := make([]byte, n)
		r.Read(data)
		shape := []uint32{uint32(n)}
		want := &Array{Data: data, Shape: shape, Dtype: "bool"}

		var buf Buffer
		want.Encode(&buf)
		got, err := DecodeArray(NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("iteration %d: data mismatch (n=%d)", i, n)
		}
	}
}
