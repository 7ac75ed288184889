package store

import (
	"testing"

	"github.com/klauspost/compress/zstd"
)

func decompressForTest(t *testing.T, data []byte) []byte {
	t.Helper()
	dec, err := zstd.NewReader(nil)
	if err != nil {
		t.Fatalf("zstd.NewReader() error = %v", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(data[len(binaryMagic)+1:], nil)
	if err != nil {
		t.Fatalf("DecodeAll() error = %v", err)
	}
	return payload
}

func recompressForTest(t *testing.T, payload []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter() error = %v", err)
	}
	defer enc.Close()
	out := append([]byte(binaryMagic), binaryVersion)
	return enc.EncodeAll(payload, out)
}
