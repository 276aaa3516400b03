package source

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/JonMunkholm/payrecon/internal/schema"
)

// Detected encoding names, reported in Table.Encoding.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-bom"
	EncodingUTF16   = "utf-16"
)

// sniffSize is how much of the file is inspected to choose an encoding.
const sniffSize = 64 << 10

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// legacyEncodings are the single-byte fallbacks for files that are not
// UTF-8, keyed by schema.Source.Encoding.
var legacyEncodings = map[string]encoding.Encoding{
	schema.EncodingLatin1: charmap.ISO8859_1,
	schema.EncodingArabic: charmap.Windows1256,
}

// decode wraps r so that it yields UTF-8. A UTF-8 BOM is dropped, UTF-16 is
// decoded by its BOM, a UTF-8 leading block is passed through a sanitizer
// and anything else is decoded with the fallback single-byte encoding.
func decode(r io.Reader, fallback string) (io.Reader, string, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", err
	}

	switch {
	case bytes.HasPrefix(head, bomUTF8):
		if _, err := br.Discard(len(bomUTF8)); err != nil {
			return nil, "", err
		}
		return newUTF8Sanitizer(br), EncodingUTF8BOM, nil
	case bytes.HasPrefix(head, bomUTF16LE), bytes.HasPrefix(head, bomUTF16BE):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec), EncodingUTF16, nil
	}

	if utf8.Valid(head[:len(head)-incompleteTrailingBytes(head)]) {
		return newUTF8Sanitizer(br), EncodingUTF8, nil
	}

	enc, ok := legacyEncodings[fallback]
	if !ok {
		fallback = schema.EncodingLatin1
		enc = legacyEncodings[fallback]
	}
	return transform.NewReader(br, enc.NewDecoder()), fallback, nil
}
