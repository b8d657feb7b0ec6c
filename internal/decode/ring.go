package decode

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gpudbg/internal/common"
	"gpudbg/internal/gpu"
	"gpudbg/internal/stream"
)

// RingWindow returns the words between the read and write pointers, both
// in dwords, wrapping at the end of the ring. whole returns the entire ring
// in storage order.
func RingWindow(ring []uint32, rptr, wptr uint32, whole bool) []uint32 {
	n := uint32(len(ring))
	if n == 0 {
		return nil
	}
	if whole {
		return append([]uint32(nil), ring...)
	}
	rptr, wptr = rptr%n, wptr%n
	if wptr >= rptr {
		return append([]uint32(nil), ring[rptr:wptr]...)
	}
	out := append([]uint32(nil), ring[rptr:]...)
	return append(out, ring[:wptr]...)
}

// Ring builds the stream for a ring window.
func Ring(name string, ring []uint32, rptr, wptr uint32, whole bool) *stream.WordStream {
	return stream.New(stream.Origin{Kind: stream.OriginRing, Name: name}, RingWindow(ring, rptr, wptr, whole))
}

// ParseHexWords reads 32-bit hex words separated by whitespace or commas.
// A 0x prefix is optional and '#' starts a comment running to end of line.
func ParseHexWords(r io.Reader) ([]uint32, error) {
	var words []uint32
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), math.MaxInt)
	line := 0
	for sc.Scan() {
		line++
		text, _, _ := strings.Cut(sc.Text(), "#")
		for _, tok := range strings.FieldsFunc(text, func(c rune) bool {
			return c == ',' || c == ' ' || c == '\t' || c == '\r'
		}) {
			tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
			v, err := strconv.ParseUint(tok, 16, 32)
			if err != nil {
				return nil, common.NewErrorf(gpu.ErrSevError, gpu.ErrCaptureParse, "line %d: bad word %q", line, tok)
			}
			words = append(words, uint32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// ReadHexFile loads a hex word file as a stream.
func ReadHexFile(path string) (*stream.WordStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	words, err := ParseHexWords(f)
	if err != nil {
		return nil, err
	}
	return stream.New(stream.Origin{Kind: stream.OriginFile, Name: path}, words), nil
}
