package vectorindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/dshills/logsift/internal/fsutil"
)

// On-disk layout, little-endian:
//
//	magic   [4]byte "LSVI"
//	version uint32
//	dim     uint32
//	count   uint64
//	data    count*dim float32
const (
	indexMagic   = "LSVI"
	indexVersion = 1
	headerSize   = 4 + 4 + 4 + 8
)

// ErrCorruptIndex is returned when templates.index cannot be decoded
var ErrCorruptIndex = errors.New("corrupt vector index")

// flatIndex is an exhaustive inner-product index
type flatIndex struct {
	dim  int
	data []float32 // row-major, len == count*dim
}

func newFlatIndex(dim int) *flatIndex {
	return &flatIndex{dim: dim}
}

// Count returns the number of stored vectors
func (x *flatIndex) Count() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Add appends vectors, which must all have the index dimension
func (x *flatIndex) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != x.dim {
			return errors.Newf("vector %d has dimension %d, index has %d", i, len(v), x.dim)
		}
	}
	for _, v := range vectors {
		x.data = append(x.data, v...)
	}
	return nil
}

type hit struct {
	row   int
	score float64
}

// Search returns the k rows with the highest inner product with query,
// best first. Equal scores keep row order.
func (x *flatIndex) Search(query []float32, k int) []hit {
	n := x.Count()
	if k <= 0 || n == 0 || len(query) != x.dim {
		return []hit{}
	}

	hits := make([]hit, n)
	for row := 0; row < n; row++ {
		vec := x.data[row*x.dim : (row+1)*x.dim]
		var dot float64
		for i, q := range query {
			dot += float64(q) * float64(vec[i])
		}
		hits[row] = hit{row: row, score: dot}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if k > n {
		k = n
	}
	return hits[:k]
}

// writeIndex atomically replaces path with x
func writeIndex(path string, x *flatIndex) error {
	return fsutil.WriteWith(path, func(tmpPath string) error {
		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		if err := encodeIndex(w, x); err != nil {
			_ = f.Close()
			return err
		}
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

func encodeIndex(w io.Writer, x *flatIndex) error {
	header := make([]byte, headerSize)
	copy(header, indexMagic)
	binary.LittleEndian.PutUint32(header[4:], indexVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(x.dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(x.Count()))
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for _, v := range x.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// readHeader returns dimension and count without loading vectors
func readHeader(r io.Reader) (int, int, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, 0, errors.Wrap(ErrCorruptIndex, "short header")
	}
	if string(header[:4]) != indexMagic {
		return 0, 0, errors.Wrap(ErrCorruptIndex, "bad magic")
	}
	if v := binary.LittleEndian.Uint32(header[4:]); v != indexVersion {
		return 0, 0, errors.Wrapf(ErrCorruptIndex, "unsupported version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:]))
	count := binary.LittleEndian.Uint64(header[12:])
	if dim <= 0 {
		return 0, 0, errors.Wrapf(ErrCorruptIndex, "invalid dimension %d", dim)
	}
	if count > math.MaxInt32 {
		return 0, 0, errors.Wrapf(ErrCorruptIndex, "invalid count %d", count)
	}
	return dim, int(count), nil
}

// readIndex loads path. A missing file returns an error satisfying os.IsNotExist.
func readIndex(path string) (*flatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	dim, count, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if want := int64(headerSize) + int64(count)*int64(dim)*4; info.Size() != want {
		return nil, errors.Wrapf(ErrCorruptIndex, "size %d, header implies %d", info.Size(), want)
	}

	raw := make([]byte, count*dim*4)
	if _, err := io.ReadFull(bufio.NewReader(f), raw); err != nil {
		return nil, errors.Wrap(ErrCorruptIndex, "short data")
	}

	data := make([]float32, count*dim)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &flatIndex{dim: dim, data: data}, nil
}

// countIndex reads only the header of path. A missing file counts as 0.
func countIndex(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	_, count, err := readHeader(f)
	return count, err
}
