package blob

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiableRange means a suffix range was requested of an empty
// object. Callers should respond 416 with a bytes */size content range.
var ErrUnsatisfiableRange = errors.New("blob: unsatisfiable range")

// ByteRange is a resolved byte range within an object of known size.
type ByteRange struct {
	Offset int64
	Length int64
}

// ContentRange renders the Content-Range response header value.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Offset, r.Offset+r.Length-1, size)
}

// ParseRange resolves a Range request header against an object of the given
// size. Only single byte ranges are supported; multipart ranges degrade to
// a full response by returning ok=false, which browsers handle fine for
// media seeking. A malformed header also returns ok=false rather than an
// error, per RFC 9110's instruction to ignore invalid Range headers. A start
// position past the end of the object resets to 0 instead of erroring.
func ParseRange(header string, size int64) (ByteRange, bool, error) {
	const prefix = "bytes="
	if header == "" || !strings.HasPrefix(header, prefix) {
		return ByteRange{}, false, nil
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, false, nil
	}

	start, end, found := strings.Cut(spec, "-")
	if !found {
		return ByteRange{}, false, nil
	}
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)

	// Suffix form: bytes=-N means the last N bytes.
	if start == "" {
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false, nil
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return ByteRange{}, false, ErrUnsatisfiableRange
		}
		return ByteRange{Offset: size - n, Length: n}, true, nil
	}

	offset, err := strconv.ParseInt(start, 10, 64)
	if err != nil || offset < 0 {
		return ByteRange{}, false, nil
	}
	if size == 0 {
		return ByteRange{}, false, nil
	}
	// A start past the end of the object resets to 0 rather than failing:
	// players seeking past EOF get the full object back.
	if offset >= size {
		offset = 0
	}

	// Open-ended form: bytes=N- means from N to the end.
	if end == "" {
		return ByteRange{Offset: offset, Length: size - offset}, true, nil
	}

	last, err := strconv.ParseInt(end, 10, 64)
	if err != nil || last < offset {
		return ByteRange{}, false, nil
	}
	if last >= size {
		last = size - 1
	}
	return ByteRange{Offset: offset, Length: last - offset + 1}, true, nil
}
