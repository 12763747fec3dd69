package evaluation

// Matrix is a dense rows×cols grid stored row-major in a single backing
// slice, so a whole DP table costs one allocation.
type Matrix[T any] struct {
	rows, cols int
	data       []T
}

// NewMatrix returns a zero-initialised rows×cols matrix.
func NewMatrix[T any](rows, cols int) *Matrix[T] {
	return &Matrix[T]{
		rows: rows,
		cols: cols,
		data: make([]T, rows*cols),
	}
}

// Rows returns the number of rows.
func (m *Matrix[T]) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix[T]) Cols() int { return m.cols }

// At returns the element at row i, column j.
func (m *Matrix[T]) At(i, j int) T { return m.data[i*m.cols+j] }

// Set stores v at row i, column j.
func (m *Matrix[T]) Set(i, j int, v T) { m.data[i*m.cols+j] = v }
