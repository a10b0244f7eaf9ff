package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Mean returns the voxelwise arithmetic mean of a and b on a's grid. No
// masking is applied: background voxels are averaged like any other.
func Mean(a, b *Volume) (*Volume, error) {
	if !a.SameGrid(b) || len(a.Data) != len(b.Data) {
		return nil, fmt.Errorf("dimension mismatch: %v vs %v", a.Header.Shape(), b.Header.Shape())
	}
	out := make([]float64, len(a.Data))
	floats.AddTo(out, a.Data, b.Data)
	floats.Scale(0.5, out)
	return &Volume{Header: a.Header, Data: out}, nil
}

// DeriveMean reads two images, averages them voxelwise and writes the result
// to dst.
func DeriveMean(dst, srcA, srcB string) error {
	a, err := Read(srcA)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcA, err)
	}
	b, err := Read(srcB)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcB, err)
	}
	mean, err := Mean(a, b)
	if err != nil {
		return fmt.Errorf("average %s and %s: %w", srcA, srcB, err)
	}
	if err := Write(dst, mean); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
