package assemble

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/klauspost/compress/flate"
)

const (
	// alignmentExtraID is the extra field zipalign pads local headers with.
	alignmentExtraID = 0xd935
	localHeaderLen   = 30
	zipVersion20     = 20

	// 1980-01-01 00:00:00, the earliest MS-DOS timestamp.
	dosDate = 1<<5 | 1
	dosTime = 0
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// alignmentExtra returns an extra field that pushes the data of an entry whose
// local header starts at offset to a multiple of alignment.
func alignmentExtra(offset int64, nameLen, alignment int) []byte {
	var (
		base = offset + localHeaderLen + int64(nameLen) + 6
		pad  = (int64(alignment) - base%int64(alignment)) % int64(alignment)
		b    = make([]byte, 6+pad)
	)

	binary.LittleEndian.PutUint16(b[0:], alignmentExtraID)
	binary.LittleEndian.PutUint16(b[2:], uint16(2+pad))
	binary.LittleEndian.PutUint16(b[4:], uint16(alignment))

	return b
}

// Write serializes l as a zip archive to w. The output is a pure function of l:
// entries appear in layout order with fixed timestamps, and the data of every
// stored entry starts at a multiple of l.Alignment, or of l.PageAlignment for
// native libraries.
func Write(l *Layout, w io.Writer) error {
	if err := write(l, w); err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}

	return nil
}

func write(l *Layout, w io.Writer) error {
	var (
		cw = &countingWriter{w: w}
		zw = zip.NewWriter(cw)
	)

	// Every entry is written raw with its sizes known up front, so no entry
	// has a data descriptor and nothing is written between entries that the
	// offsets below do not account for.
	for _, entry := range l.Entries {
		hdr := &zip.FileHeader{
			Name:               entry.Name,
			CreatorVersion:     zipVersion20,
			ReaderVersion:      zipVersion20,
			Method:             entry.Method,
			ModifiedDate:       dosDate,
			ModifiedTime:       dosTime,
			CRC32:              crc32.ChecksumIEEE(entry.Data),
			UncompressedSize64: uint64(len(entry.Data)),
		}

		data := entry.Data
		switch entry.Method {
		case zip.Store:
			if err := zw.Flush(); err != nil {
				return err
			}

			alignment := entryAlignment(entry.Name, l.Alignment, l.PageAlignment)
			if alignment > MaxAlignment {
				return fmt.Errorf("%s: alignment %d exceeds %d", entry.Name, alignment, MaxAlignment)
			}

			hdr.Extra = alignmentExtra(cw.n, len(entry.Name), alignment)
		case zip.Deflate:
			var err error
			if data, err = deflate(entry.Data); err != nil {
				return fmt.Errorf("compress %s: %w", entry.Name, err)
			}
		default:
			return fmt.Errorf("%s: unsupported compression method %d", entry.Name, entry.Method)
		}

		hdr.CompressedSize64 = uint64(len(data))

		fw, err := zw.CreateRaw(hdr)
		if err != nil {
			return fmt.Errorf("create %s: %w", entry.Name, err)
		}

		if _, err = fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", entry.Name, err)
		}
	}

	return zw.Close()
}

func deflate(data []byte) ([]byte, error) {
	buf := new(bytes.Buffer)

	fw, err := flate.NewWriter(buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err = fw.Write(data); err != nil {
		return nil, err
	}

	if err = fw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Bytes returns the archive Write would produce.
func (l *Layout) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := Write(l, buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteFile writes the archive to name. The archive is staged next to name
// and renamed into place, so name never holds a partial archive.
func WriteFile(l *Layout, name string) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}

	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}
	defer os.Remove(f.Name())

	if err = Write(l, f); err != nil {
		_ = f.Close()
		return err
	}

	if err = f.Close(); err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}

	if err = os.Rename(f.Name(), name); err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}

	return nil
}

// VerifyAlignment re-reads an archive and fails with an AssemblyError if the
// data of any stored entry does not start at a multiple of alignment, or of
// pageAlignment for native libraries when that is greater.
func VerifyAlignment(r io.ReaderAt, size int64, alignment, pageAlignment int) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return apkerr.New(apkerr.Assembly, err)
	}

	for _, f := range zr.File {
		if f.Method != zip.Store {
			continue
		}

		off, err := f.DataOffset()
		if err != nil {
			return apkerr.New(apkerr.Assembly, fmt.Errorf("%s: %w", f.Name, err))
		}

		if want := entryAlignment(f.Name, alignment, pageAlignment); off%int64(want) != 0 {
			return apkerr.New(apkerr.Assembly, fmt.Errorf("%s: data at offset %d is not %d-byte aligned", f.Name, off, want))
		}
	}

	return nil
}
