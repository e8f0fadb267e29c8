package services

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/prudhvinik1/tablesync/internal/models"
)

// Hasher computes the content fingerprint of a logical row. The digest input
// is canonical: column names sorted, every field length-framed and type
// tagged, excluded columns skipped. Two rows with equal business content
// hash identically regardless of field arrival order or process restarts.
//
// 64 bits is enough here because a fingerprint is only ever compared against
// the stored hash for the same primary key: a miss requires a changed row to
// collide with its own previous content (p = 2^-64 per change), not a
// birthday bound across the table.
type Hasher struct {
	exclude map[string]struct{}
}

func NewHasher(exclude []string) *Hasher {
	h := &Hasher{exclude: make(map[string]struct{}, len(exclude))}
	for _, col := range exclude {
		h.exclude[col] = struct{}{}
	}
	return h
}

func (h *Hasher) Hash(row models.Row) uint64 {
	cols := make([]string, 0, len(row))
	for col := range row {
		if _, skip := h.exclude[col]; skip {
			continue
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	digest := xxhash.New()
	var frame [8]byte
	writeField := func(s string) {
		binary.BigEndian.PutUint64(frame[:], uint64(len(s)))
		digest.Write(frame[:])
		digest.WriteString(s)
	}
	for _, col := range cols {
		writeField(col)
		writeField(encodeValue(row[col]))
	}
	return digest.Sum64()
}

// encodeValue renders a scalar deterministically. Integral floats collapse
// to their integer form so a value survives a JSON decode round trip with
// the same encoding.
func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case bool:
		if x {
			return "b:1"
		}
		return "b:0"
	case string:
		return "s:" + x
	case int:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		// Only collapse to the integer form when the value fits int64
		// exactly; out-of-range conversions are implementation-defined
		// and would fold distinct huge values together.
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			return "i:" + strconv.FormatInt(int64(x), 10)
		}
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return "s:" + string(x)
	default:
		return "v:" + fmt.Sprintf("%v", x)
	}
}

// CanonicalKey renders a row's primary key columns as a stable string, the
// identity under which fingerprints are stored. Each value is length-framed
// just like hash input fields: a plain separator would let a key value
// containing the separator byte collide with a neighboring column.
func CanonicalKey(row models.Row, primaryKey []string) string {
	var sb strings.Builder
	for _, col := range primaryKey {
		enc := encodeValue(row[col])
		sb.WriteString(strconv.Itoa(len(enc)))
		sb.WriteByte(':')
		sb.WriteString(enc)
	}
	return sb.String()
}

// keyValuesFromCanonical inverts CanonicalKey so deletes can be built for
// keys known only from stored fingerprints.
func keyValuesFromCanonical(key string, primaryKey []string) models.Row {
	row := make(models.Row, len(primaryKey))
	rest := key
	for _, col := range primaryKey {
		sep := strings.IndexByte(rest, ':')
		if sep < 0 {
			break
		}
		n, err := strconv.Atoi(rest[:sep])
		if err != nil || sep+1+n > len(rest) {
			break
		}
		row[col] = decodeValue(rest[sep+1 : sep+1+n])
		rest = rest[sep+1+n:]
	}
	return row
}

func decodeValue(s string) any {
	if len(s) < 2 || s[1] != ':' {
		return s
	}
	body := s[2:]
	switch s[0] {
	case 'n':
		return nil
	case 'b':
		return body == "1"
	case 's':
		return body
	case 'i':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return body
		}
		return n
	case 'f':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return body
		}
		return f
	default:
		return body
	}
}
