// Package artifact frames precompiled module payloads for storage: a fixed
// header carrying a magic and a format version, an aligned payload, and the
// symbol naming scheme linking serialized entities back to their module.
package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wavmio/wavm/api"
)

// Magic opens every artifact. It never changes; the version field after it
// does.
const Magic = "wavm-aot"

// CurrentVersion is the artifact format version this engine writes and
// accepts.
const CurrentVersion uint32 = 1

const (
	// HeaderSize is the byte length of the fixed header: the magic, the
	// format version and the payload length.
	HeaderSize = 16
	// Alignment is the required multiple for total artifact size. Padding
	// after the payload keeps mapped artifacts alignable.
	Alignment = 16
)

var (
	// ErrInvalidMagic means the input does not open with Magic.
	ErrInvalidMagic = errors.New("invalid artifact magic")
	// ErrVersionMismatch means the artifact was written by an incompatible
	// format version.
	ErrVersionMismatch = errors.New("artifact version mismatch")
	// ErrMisaligned means the artifact length is not a multiple of
	// Alignment, which a correct writer always produces.
	ErrMisaligned = errors.New("artifact is not 16-byte aligned")
	// ErrTruncated means the input is shorter than its header claims.
	ErrTruncated = errors.New("artifact is truncated")
)

// Serialize frames payload: Magic, the version, the payload length, the
// payload itself, and zero padding up to Alignment.
func Serialize(payload []byte) []byte {
	total := HeaderSize + len(payload)
	if rem := total % Alignment; rem != 0 {
		total += Alignment - rem
	}
	out := make([]byte, total)
	copy(out, Magic)
	binary.LittleEndian.PutUint32(out[8:], CurrentVersion)
	binary.LittleEndian.PutUint32(out[12:], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// Deserialize verifies the header and returns the payload.
func Deserialize(b []byte) ([]byte, error) {
	if len(b) < HeaderSize {
		return nil, ErrTruncated
	}
	if string(b[:8]) != Magic {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint32(b[8:]); v != CurrentVersion {
		return nil, fmt.Errorf("%w: artifact version %d, engine expects %d", ErrVersionMismatch, v, CurrentVersion)
	}
	if len(b)%Alignment != 0 {
		return nil, ErrMisaligned
	}
	return payloadOf(b)
}

// DeserializeUnchecked returns the payload without verifying the magic, the
// version or the alignment. It serves trusted inputs only, e.g. re-reading
// an artifact this process wrote moments ago; hand untrusted bytes to
// Deserialize instead.
func DeserializeUnchecked(b []byte) ([]byte, error) {
	if len(b) < HeaderSize {
		return nil, ErrTruncated
	}
	return payloadOf(b)
}

func payloadOf(b []byte) ([]byte, error) {
	n := binary.LittleEndian.Uint32(b[12:])
	if uint64(HeaderSize)+uint64(n) > uint64(len(b)) {
		return nil, ErrTruncated
	}
	return b[HeaderSize : HeaderSize+n], nil
}

// Contents is the payload of one module artifact.
type Contents struct {
	// EngineVersion is the engine build that produced the artifact. Loads
	// reject a different version: lowered code is an engine-internal format.
	EngineVersion string
	// Features are the feature flags the module was validated under.
	Features api.CoreFeatures
	// Module is the canonical re-encoded module binary.
	Module []byte
	// Code is the backend-serialized lowered code.
	Code []byte
}

// Encode frames the contents into a complete artifact.
func (c *Contents) Encode() []byte {
	payload := make([]byte, 0, 4+len(c.EngineVersion)+8+4+len(c.Module)+4+len(c.Code))
	var tmp [8]byte

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(c.EngineVersion)))
	payload = append(payload, tmp[:4]...)
	payload = append(payload, c.EngineVersion...)

	binary.LittleEndian.PutUint64(tmp[:], uint64(c.Features))
	payload = append(payload, tmp[:]...)

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(c.Module)))
	payload = append(payload, tmp[:4]...)
	payload = append(payload, c.Module...)

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(c.Code)))
	payload = append(payload, tmp[:4]...)
	payload = append(payload, c.Code...)

	return Serialize(payload)
}

// DecodeContents verifies the artifact frame and decodes its payload.
func DecodeContents(b []byte) (*Contents, error) {
	payload, err := Deserialize(b)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

// DecodeContentsUnchecked decodes without frame verification, for trusted
// inputs.
func DecodeContentsUnchecked(b []byte) (*Contents, error) {
	payload, err := DeserializeUnchecked(b)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func decodePayload(b []byte) (*Contents, error) {
	next := func(n uint64) ([]byte, error) {
		if n > uint64(len(b)) {
			return nil, ErrTruncated
		}
		field := b[:n]
		b = b[n:]
		return field, nil
	}
	nextLen := func() (uint64, error) {
		f, err := next(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(f)), nil
	}

	c := &Contents{}
	n, err := nextLen()
	if err != nil {
		return nil, err
	}
	versionBytes, err := next(n)
	if err != nil {
		return nil, err
	}
	c.EngineVersion = string(versionBytes)

	f, err := next(8)
	if err != nil {
		return nil, err
	}
	c.Features = api.CoreFeatures(binary.LittleEndian.Uint64(f))

	if n, err = nextLen(); err != nil {
		return nil, err
	}
	if c.Module, err = next(n); err != nil {
		return nil, err
	}
	if n, err = nextLen(); err != nil {
		return nil, err
	}
	if c.Code, err = next(n); err != nil {
		return nil, err
	}
	return c, nil
}
