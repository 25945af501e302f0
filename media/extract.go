// Package media extracts metadata from uploaded files and derives
// thumbnail variants from images.
package media

import (
	"bufio"
	"bytes"
	"image"
	"io"
	"net/http"

	"github.com/affixlabs/affix/attach"
)

// sniffLen is how much of the head of a file the extractor reads:
// enough for http.DetectContentType and for the size headers of the
// registered image formats.
const sniffLen = 32 << 10

// Extract sniffs metadata from the head of r without consuming it: the
// detected MIME type always, pixel dimensions when the head decodes as
// an image. The returned reader replays the content from the start.
func Extract(r io.Reader) (attach.Metadata, io.Reader, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF {
		return nil, nil, err
	}
	meta := attach.Metadata{
		"mime_type": http.DetectContentType(head),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(head)); err == nil {
		meta["width"] = cfg.Width
		meta["height"] = cfg.Height
	}
	return meta, br, nil
}
