package extract

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a document input for method selection.
type Kind int

const (
	KindUnknown Kind = iota
	KindPDF
	KindImage
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindImage:
		return "image"
	case KindHTML:
		return "html"
	}
	return "unknown"
}

var imageMagic = [][]byte{
	{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
	{0xFF, 0xD8, 0xFF},
	[]byte("GIF87a"),
	[]byte("GIF89a"),
	[]byte("BM"),
	{'I', 'I', '*', 0x00},
	{'M', 'M', 0x00, '*'},
}

// SniffKind determines the document kind from content, falling back to
// the file extension when the leading bytes are inconclusive. A scanned
// image saved with a .pdf extension is still classified by its content.
func SniffKind(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return KindUnknown, err
	}
	head = head[:n]

	if k := sniffBytes(head); k != KindUnknown {
		return k, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, nil
	case ".png", ".jpg", ".jpeg", ".tiff", ".bmp", ".gif":
		return KindImage, nil
	case ".html", ".htm":
		return KindHTML, nil
	}

	return KindUnknown, nil
}

func sniffBytes(head []byte) Kind {
	if bytes.HasPrefix(head, []byte("%PDF-")) {
		return KindPDF
	}

	for _, magic := range imageMagic {
		if bytes.HasPrefix(head, magic) {
			return KindImage
		}
	}

	lower := bytes.ToLower(bytes.TrimSpace(head))
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
		return KindHTML
	}

	return KindUnknown
}
