package design

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"tbssrun/internal/fileutil"
)

// Files are the paths of a written design.
type Files struct {
	Matrix    string
	Contrasts string
}

// WriteFiles writes <prefix>.mat and <prefix>.con in the toolkit's VEST text
// format.
func (m Matrix) WriteFiles(prefix string) (Files, error) {
	files := Files{Matrix: prefix + ".mat", Contrasts: prefix + ".con"}
	if err := fileutil.WriteFileAtomic(files.Matrix, 0o644, m.writeMatrix); err != nil {
		return Files{}, fmt.Errorf("write design matrix: %w", err)
	}
	if err := fileutil.WriteFileAtomic(files.Contrasts, 0o644, m.writeContrasts); err != nil {
		return Files{}, fmt.Errorf("write design contrasts: %w", err)
	}
	return files, nil
}

func (m Matrix) writeMatrix(w io.Writer) error {
	rows, cols := m.EVs.Dims()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "/NumWaves\t%d\n", cols)
	fmt.Fprintf(bw, "/NumPoints\t%d\n", rows)
	fmt.Fprintf(bw, "/PPheights\t\t%s\n", ones(cols))
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "/Matrix")
	writeRows(bw, m.EVs)
	return bw.Flush()
}

func (m Matrix) writeContrasts(w io.Writer) error {
	rows, cols := m.Contrasts.Dims()
	bw := bufio.NewWriter(w)
	for i, name := range m.ContrastNames() {
		fmt.Fprintf(bw, "/ContrastName%d\t%s\n", i+1, name)
	}
	fmt.Fprintf(bw, "/NumWaves\t%d\n", cols)
	fmt.Fprintf(bw, "/NumContrasts\t%d\n", rows)
	fmt.Fprintf(bw, "/PPheights\t\t%s\n", ones(rows))
	fmt.Fprintf(bw, "/RequiredEffect\t\t%s\n", ones(rows))
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "/Matrix")
	writeRows(bw, m.Contrasts)
	return bw.Flush()
}

func writeRows(w io.Writer, d mat.Matrix) {
	rows, cols := d.Dims()
	fields := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			fields[j] = strconv.FormatFloat(d.At(i, j), 'g', -1, 64)
		}
		fmt.Fprintln(w, strings.Join(fields, " "))
	}
}

func ones(n int) string {
	return strings.TrimSpace(strings.Repeat("1 ", n))
}
