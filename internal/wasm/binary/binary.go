// Package binary decodes and encodes the WebAssembly 1.0 (20191205) Binary
// Format.
//
// Decoding accepts both an in-memory byte slice and a streaming reader and
// produces identical modules for identical bytes. All decode errors carry the
// byte offset of the offending input.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
package binary

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wavmio/wavm/api"
	"github.com/wavmio/wavm/internal/leb128"
	"github.com/wavmio/wavm/internal/wasm"
)

// Magic is the 4 byte preamble (literally "\0asm") of the binary format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-magic
var Magic = []byte{0x00, 0x61, 0x73, 0x6D}

// version is format version and doesn't change between known specification
// versions.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-version
var version = []byte{0x01, 0x00, 0x00, 0x00}

var (
	// ErrInvalidMagicNumber is returned when the input does not begin with
	// the "\0asm" preamble.
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	// ErrInvalidVersion is returned on any version header other than 1.
	ErrInvalidVersion = errors.New("invalid version header")
)

// OffsetError locates a decode failure in the input.
type OffsetError struct {
	// Offset is the position in the input, in bytes, where decoding failed.
	Offset uint64
	Err    error
}

// Error implements error.
func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset %#x: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OffsetError) Unwrap() error {
	return e.Err
}

// reader tracks the absolute byte position of everything read, so errors and
// function body offsets agree between slice and streaming input.
type reader struct {
	r   io.Reader
	br  io.ByteReader
	pos uint64

	// capture accumulates raw bytes between beginCapture and endCapture,
	// used to retain const expression immediates undecoded.
	capture   []byte
	capturing bool
}

func newReader(r io.Reader) *reader {
	br, ok := r.(interface {
		io.Reader
		io.ByteReader
	})
	if !ok {
		br = bufio.NewReader(r)
	}
	return &reader{r: br, br: br}
}

func (r *reader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err == nil {
		r.pos++
		if r.capturing {
			r.capture = append(r.capture, b)
		}
	}
	return b, err
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.pos += uint64(n)
	if r.capturing && n > 0 {
		r.capture = append(r.capture, p[:n]...)
	}
	return n, err
}

// skip consumes n bytes, erroring on a short input. Seek is not used as the
// underlying reader may be a stream.
func (r *reader) skip(n uint64) error {
	if n == 0 {
		return nil
	}
	written, err := io.CopyN(io.Discard, r, int64(n))
	if err == io.EOF || (err == nil && written != int64(n)) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (r *reader) beginCapture() {
	r.capturing = true
	r.capture = r.capture[:0]
}

func (r *reader) endCapture() []byte {
	r.capturing = false
	out := make([]byte, len(r.capture))
	copy(out, r.capture)
	return out
}

// readFull reads exactly len(p) bytes, normalizing io.EOF to ErrUnexpectedEOF.
func (r *reader) readFull(p []byte) error {
	_, err := io.ReadFull(r, p)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (r *reader) readUint32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(r)
	return v, err
}

// errorf wraps a failure with the current byte position.
func (r *reader) errorf(format string, args ...interface{}) error {
	return &OffsetError{Offset: r.pos, Err: fmt.Errorf(format, args...)}
}

// errorAt wraps a failure with an explicit byte position, for errors best
// reported at the start of the construct rather than where reading stopped.
func errorAt(offset uint64, format string, args ...interface{}) error {
	return &OffsetError{Offset: offset, Err: fmt.Errorf(format, args...)}
}

// DecodeModule decodes an in-memory binary into a wasm.Module.
//
// The returned module passed structural decoding only: callers run
// wasm.Module Validate for semantic checks.
func DecodeModule(input []byte, enabledFeatures api.CoreFeatures) (*wasm.Module, error) {
	m, err := DecodeModuleFromReader(bytes.NewReader(input), enabledFeatures)
	if err != nil {
		return nil, err
	}
	m.AssignModuleID(input)
	return m, nil
}

// DecodeModuleFromReader is the streaming shape of DecodeModule, for modules
// too large to hold twice in memory. The module ID is not assigned, as the
// raw bytes are not retained: callers hash the stream themselves, e.g. with
// an io.TeeReader.
func DecodeModuleFromReader(input io.Reader, enabledFeatures api.CoreFeatures) (*wasm.Module, error) {
	r := newReader(input)

	preamble := make([]byte, 4)
	if err := r.readFull(preamble); err != nil {
		return nil, errorAt(0, "read magic: %v", err)
	}
	if !bytes.Equal(preamble, Magic) {
		return nil, errorAt(0, "%w", ErrInvalidMagicNumber)
	}
	if err := r.readFull(preamble); err != nil {
		return nil, errorAt(4, "read version: %v", err)
	}
	if !bytes.Equal(preamble, version) {
		return nil, errorAt(4, "%w", ErrInvalidVersion)
	}

	m := &wasm.Module{}
	// Non-custom sections must appear at most once and in ID order.
	lastSection := wasm.SectionIDCustom
	for {
		sectionStart := r.pos
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, r.errorf("read section id: %v", err)
		}

		sectionSize, err := r.readUint32()
		if err != nil {
			return nil, r.errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}

		if sectionID != wasm.SectionIDCustom {
			if sectionID > wasm.SectionIDData {
				return nil, errorAt(sectionStart, "unknown section id: %d", sectionID)
			}
			if sectionID <= lastSection {
				return nil, errorAt(sectionStart, "section %s out of order or duplicated", wasm.SectionIDName(sectionID))
			}
			lastSection = sectionID
		}

		contentStart := r.pos
		if err = decodeSection(r, m, sectionID, sectionSize, enabledFeatures); err != nil {
			return nil, err
		}
		if read := r.pos - contentStart; read != uint64(sectionSize) {
			return nil, errorAt(sectionStart, "invalid section length in %s section: expected %d but read %d bytes",
				wasm.SectionIDName(sectionID), sectionSize, read)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, errorAt(r.pos, "function and code section have inconsistent lengths: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}
	if m.ExportSection == nil {
		m.ExportSection = map[string]*wasm.Export{}
	}
	return m, nil
}

func decodeSection(r *reader, m *wasm.Module, sectionID wasm.SectionID, sectionSize uint32, enabledFeatures api.CoreFeatures) (err error) {
	switch sectionID {
	case wasm.SectionIDCustom:
		err = decodeCustomSection(r, m, sectionSize)
	case wasm.SectionIDType:
		m.TypeSection, err = decodeTypeSection(r)
	case wasm.SectionIDImport:
		m.ImportSection, err = decodeImportSection(r)
	case wasm.SectionIDFunction:
		m.FunctionSection, err = decodeFunctionSection(r)
	case wasm.SectionIDTable:
		m.TableSection, err = decodeTableSection(r)
	case wasm.SectionIDMemory:
		m.MemorySection, err = decodeMemorySection(r)
	case wasm.SectionIDGlobal:
		m.GlobalSection, err = decodeGlobalSection(r)
	case wasm.SectionIDExport:
		m.ExportSection, err = decodeExportSection(r)
	case wasm.SectionIDStart:
		m.StartSection, err = decodeStartSection(r)
	case wasm.SectionIDElement:
		m.ElementSection, err = decodeElementSection(r)
	case wasm.SectionIDCode:
		m.CodeSection, err = decodeCodeSection(r)
	case wasm.SectionIDData:
		m.DataSection, err = decodeDataSection(r)
	}
	if err != nil {
		var oe *OffsetError
		if errors.As(err, &oe) {
			return err
		}
		return r.errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
	}
	return nil
}
