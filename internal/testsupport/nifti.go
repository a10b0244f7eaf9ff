package testsupport

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"testing"

	"tbssrun/internal/volume"
)

// NIfTIHeaderOnly returns a gzip-compressed single-file image holding hdr and
// an empty extension block but no voxel data.
func NIfTIHeaderOnly(t testing.TB, hdr volume.Header) []byte {
	t.Helper()

	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encode header: %v", err)
	}
	raw.Write([]byte{0, 0, 0, 0})

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		t.Fatalf("compress header: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress header: %v", err)
	}
	return gz.Bytes()
}
