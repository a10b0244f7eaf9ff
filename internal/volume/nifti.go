// Package volume reads and writes single-file NIfTI-1 images and performs the
// voxelwise arithmetic staging needs.
package volume

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"tbssrun/internal/fileutil"
)

const (
	headerSize = 348
	voxOffset  = 352

	// maxVoxels bounds the voxel count accepted from a header. A 1mm MNI
	// volume holds about 7.2 million voxels.
	maxVoxels = 1 << 28
)

// NIfTI-1 datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// Header is the 348-byte NIfTI-1 header.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte
	Dim            [8]int16
	IntentP1       float32
	IntentP2       float32
	IntentP3       float32
	IntentCode     int16
	DataType       int16
	BitPix         int16
	SliceStart     int16
	PixDim         [8]float32
	VoxOffset      float32
	SclSlope       float32
	SclInter       float32
	SliceEnd       int16
	SliceCode      byte
	XYZTUnits      byte
	CalMax         float32
	CalMin         float32
	SliceDuration  float32
	TOffset        float32
	GLMax          int32
	GLMin          int32
	Descrip        [80]byte
	AuxFile        [24]byte
	QFormCode      int16
	SFormCode      int16
	QuaternB       float32
	QuaternC       float32
	QuaternD       float32
	QOffsetX       float32
	QOffsetY       float32
	QOffsetZ       float32
	SRowX          [4]float32
	SRowY          [4]float32
	SRowZ          [4]float32
	IntentName     [16]byte
	Magic          [4]byte
}

// Shape returns the used dimensions (dim[1..dim[0]]).
func (h Header) Shape() []int {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return nil
	}
	shape := make([]int, n)
	for i := range shape {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

// Voxels returns the number of voxels described by the header.
func (h Header) Voxels() int {
	shape := h.Shape()
	if len(shape) == 0 {
		return 0
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	return total
}

// Volume is an image held as float64 voxels in file order.
type Volume struct {
	Header Header
	Data   []float64
}

// SameGrid reports whether two volumes share the same dimensions.
func (v *Volume) SameGrid(other *Volume) bool {
	a, b := v.Header.Shape(), other.Header.Shape()
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Read loads a single-file NIfTI-1 image (.nii or .nii.gz). Gzip is detected
// from the stream, not the file name. Scaling (scl_slope/scl_inter) is applied.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if sig, err := br.Peek(2); err == nil && sig[0] == 0x1f && sig[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: open gzip stream: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	vol, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

func decode(r io.Reader) (*Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if int32(binary.LittleEndian.Uint32(raw)) != headerSize {
		if int32(binary.BigEndian.Uint32(raw)) != headerSize {
			return nil, errors.New("not a NIfTI-1 image (sizeof_hdr != 348)")
		}
		order = binary.BigEndian
	}
	var hdr Header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Magic == magicPair {
		return nil, errors.New("two-file NIfTI (.hdr/.img) images are not supported")
	}
	if hdr.Magic != magicSingle {
		return nil, fmt.Errorf("unexpected NIfTI magic %q", hdr.Magic[:3])
	}
	voxels, err := boundedVoxels(hdr)
	if err != nil {
		return nil, err
	}

	skip := int64(hdr.VoxOffset) - headerSize
	if skip < 0 {
		return nil, fmt.Errorf("invalid vox_offset %v", hdr.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("skip extensions: %w", err)
	}

	data, err := readVoxels(r, order, hdr.DataType, voxels)
	if err != nil {
		return nil, err
	}
	if hdr.SclSlope != 0 && !(hdr.SclSlope == 1 && hdr.SclInter == 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}
	return &Volume{Header: hdr, Data: data}, nil
}

// boundedVoxels returns the header's voxel count, rejecting dimensions that
// are empty or too large to hold in memory.
func boundedVoxels(hdr Header) (int, error) {
	shape := hdr.Shape()
	if len(shape) == 0 {
		return 0, fmt.Errorf("invalid dimensions %v", hdr.Dim)
	}
	total := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("invalid dimensions %v", hdr.Dim)
		}
		if total > maxVoxels/d {
			return 0, fmt.Errorf("dimensions %v exceed %d voxels", hdr.Dim, maxVoxels)
		}
		total *= d
	}
	return total, nil
}

func bytesPerVoxel(datatype int16) (int, error) {
	switch datatype {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
}

// readVoxels reads n voxels of datatype. The payload is read before any
// voxel-sized allocation so a truncated file fails without reserving the
// size its header claims.
func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, n int) ([]float64, error) {
	width, err := bytesPerVoxel(datatype)
	if err != nil {
		return nil, err
	}
	want := int64(n) * int64(width)
	raw, err := io.ReadAll(io.LimitReader(r, want))
	if err != nil {
		return nil, fmt.Errorf("read voxel data: %w", err)
	}
	if int64(len(raw)) != want {
		return nil, fmt.Errorf("read voxel data: truncated, got %d of %d bytes", len(raw), want)
	}

	out := make([]float64, n)
	for i := range out {
		b := raw[i*width : (i+1)*width]
		switch datatype {
		case DTUint8:
			out[i] = float64(b[0])
		case DTInt8:
			out[i] = float64(int8(b[0]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			out[i] = float64(order.Uint16(b))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(b)))
		case DTUint32:
			out[i] = float64(order.Uint32(b))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return out, nil
}

// Write stores v as a little-endian float32 single-file NIfTI-1 image,
// gzip-compressed when path ends in ".gz". The geometry fields of v.Header
// are preserved. Output is deterministic for identical input and is written
// atomically.
func Write(path string, v *Volume) error {
	if v == nil || len(v.Data) != v.Header.Voxels() {
		return fmt.Errorf("write %s: voxel count does not match header dimensions", path)
	}
	return fileutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		if !strings.HasSuffix(path, ".gz") {
			return encode(w, v)
		}
		gz := gzip.NewWriter(w)
		if err := encode(gz, v); err != nil {
			return err
		}
		return gz.Close()
	})
}

func encode(w io.Writer, v *Volume) error {
	hdr := v.Header
	hdr.SizeOfHdr = headerSize
	hdr.DataType = DTFloat32
	hdr.BitPix = 32
	hdr.VoxOffset = voxOffset
	hdr.SclSlope = 1
	hdr.SclInter = 0
	hdr.Magic = magicSingle

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, value := range v.Data {
		lo = math.Min(lo, value)
		hi = math.Max(hi, value)
	}
	hdr.CalMin, hdr.CalMax = float32(lo), float32(hi)

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	// Empty extension block.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}
	buf := make([]float32, len(v.Data))
	for i, value := range v.Data {
		buf[i] = float32(value)
	}
	if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("encode voxels: %w", err)
	}
	return bw.Flush()
}

// New returns a 3-D float volume of the given shape filled with value, using
// 1 mm isotropic voxels and an identity sform. Intended for fixtures.
func New(nx, ny, nz int, value float64) *Volume {
	var hdr Header
	hdr.SizeOfHdr = headerSize
	hdr.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	hdr.DataType = DTFloat32
	hdr.BitPix = 32
	hdr.VoxOffset = voxOffset
	hdr.XYZTUnits = 2 // mm
	hdr.SFormCode = 1
	hdr.SRowX = [4]float32{1, 0, 0, 0}
	hdr.SRowY = [4]float32{0, 1, 0, 0}
	hdr.SRowZ = [4]float32{0, 0, 1, 0}
	hdr.Magic = magicSingle
	data := make([]float64, nx*ny*nz)
	for i := range data {
		data[i] = value
	}
	return &Volume{Header: hdr, Data: data}
}
