package workspace

import (
	"io"
	"os"
)

// binarySniffLen is how many leading bytes are sampled for binary detection.
const binarySniffLen = 8192

// IsBinary samples the first 8 KiB of the file and reports whether it looks
// binary: any NUL byte, or more than 30% of the sample outside the text byte
// set (common control characters plus everything from 0x20 up).
func IsBinary(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false, err
	}
	return looksBinary(buf[:n]), nil
}

func looksBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	nonText := 0
	for _, b := range sample {
		if b == 0x00 {
			return true
		}
		if !isTextByte(b) {
			nonText++
		}
	}
	return float64(nonText)/float64(len(sample)) > 0.30
}

func isTextByte(b byte) bool {
	switch b {
	case 0x07, 0x08, 0x09, 0x0A, 0x0C, 0x0D, 0x1B:
		return true
	}
	return b >= 0x20
}
