package memory

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
)

// Vector is a fixed-length embedding stored in SQLite as a binary BLOB
// (little-endian float32 array). The encode/decode round-trip is exact.
type Vector []float32

// Value implements driver.Valuer for database insertion.
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}

	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// Scan implements sql.Scanner for reading vectors from the database.
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}

	buf, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported type for Vector: %T", src)
	}

	if len(buf) == 0 {
		*v = nil
		return nil
	}

	if len(buf)%4 != 0 {
		return fmt.Errorf("invalid vector blob size: %d (must be multiple of 4)", len(buf))
	}

	result := make(Vector, len(buf)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	*v = result
	return nil
}

// Dot returns the dot product of two vectors. Both sides are stored
// L2-normalized, so this equals their cosine similarity.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize scales v to unit L2 norm in place. A zero vector is left as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// roundScore rounds a similarity score to 4 decimal digits for
// presentation. Internal comparisons always use the full-precision value.
func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
