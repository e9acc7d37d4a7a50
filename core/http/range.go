package http

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ByteRange is a half-open byte interval requested by a client.
// Offset == -1 means a suffix range of Length bytes; Length == ToEnd means
// "from Offset to the end of the resource".
type ByteRange struct {
	Offset int64
	Length int64
}

// ToEnd is the Length of an open-ended range like "bytes=500-".
const ToEnd = math.MaxInt64

// NoRange is the sentinel for an absent range.
var NoRange = ByteRange{Offset: -1, Length: 0}

// IsValid reports whether r designates any range at all.
func (r ByteRange) IsValid() bool {
	return r.Offset >= 0 || r.Length > 0
}

func (r ByteRange) String() string {
	switch {
	case !r.IsValid():
		return "none"
	case r.Offset < 0:
		return fmt.Sprintf("bytes=-%d", r.Length)
	case r.Length == ToEnd:
		return fmt.Sprintf("bytes=%d-", r.Offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
	}
}

// Clamp resolves r against a resource of size bytes. The result always
// satisfies 0 <= Offset, Offset+Length <= size and Length > 0; otherwise a
// *RangeError is returned.
func (r ByteRange) Clamp(size int64) (ByteRange, error) {
	if !r.IsValid() {
		return ByteRange{Offset: 0, Length: size}, nil
	}
	var out ByteRange
	if r.Offset >= 0 {
		out.Offset = min(r.Offset, size)
		out.Length = min(r.Length, size-out.Offset)
	} else {
		out.Length = min(r.Length, size)
		out.Offset = size - out.Length
	}
	if out.Length <= 0 {
		return NoRange, &RangeError{Range: r, Size: size}
	}
	return out, nil
}

// ContentRange formats the Content-Range header value for a clamped range.
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Offset, r.Offset+r.Length-1, size)
}

// ParseRange parses a Range header. Only a single "bytes=" range is honored;
// anything else yields NoRange so the full resource is served.
func ParseRange(value string) ByteRange {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes=") {
		return NoRange
	}
	spec := value[len("bytes="):]
	if strings.Contains(spec, ",") {
		return NoRange
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return NoRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	start, startErr := strconv.ParseInt(startStr, 10, 64)
	end, endErr := strconv.ParseInt(endStr, 10, 64)
	switch {
	case startStr != "" && startErr == nil && start >= 0 && endStr != "" && endErr == nil && end >= start:
		return ByteRange{Offset: start, Length: end - start + 1}
	case startStr != "" && startErr == nil && start >= 0:
		return ByteRange{Offset: start, Length: ToEnd}
	case startStr == "" && endStr != "" && endErr == nil && end > 0:
		return ByteRange{Offset: -1, Length: end}
	}
	return NoRange
}
