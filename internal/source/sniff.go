package source

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// candidateDelimiters in order of preference on a tie.
var candidateDelimiters = []rune{',', ';', '\t'}

// sniffDelimiter picks the candidate that occurs most often, outside
// quotes, on the first line. Comma wins when nothing else is present.
func sniffDelimiter(line []byte) rune {
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, b := range line {
		switch {
		case b == '"':
			inQuotes = !inQuotes
		case inQuotes:
		default:
			counts[rune(b)]++
		}
	}

	best := candidateDelimiters[0]
	for _, d := range candidateDelimiters[1:] {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// peekHeaderLine returns the first line of br without consuming it.
func peekHeaderLine(br *bufio.Reader) ([]byte, error) {
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	return bytes.TrimSuffix(head, []byte{'\r'}), nil
}
