// Package msgs defines the messages exchanged on the bus: raw camera images
// and 2-D detection arrays.
package msgs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Pixel encodings understood by the image conversions.
const (
	EncodingRGB8  = "rgb8"
	EncodingBGR8  = "bgr8"
	EncodingRGBA8 = "rgba8"
	EncodingBGRA8 = "bgra8"
	EncodingMono8 = "mono8"
)

// imageMagic prefixes every encoded image frame.
var imageMagic = [4]byte{'Y', 'B', 'I', 'M'}

const imageVersion = 1

// ErrUnsupportedEncoding is returned for pixel encodings with no conversion.
var ErrUnsupportedEncoding = errors.New("msgs: unsupported encoding")

// Header carries the acquisition time and coordinate frame of a message.
// It is copied between messages verbatim.
type Header struct {
	Seq     uint32    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

// Image is an uncompressed camera frame.
type Image struct {
	Header      Header
	Height      int
	Width       int
	Encoding    string
	IsBigEndian bool
	Step        int // row length in bytes
	Data        []byte
}

// DecodeError reports which field of a binary frame could not be read.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("msgs: decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errShort = errors.New("short buffer")

// Encode serializes the image for transmission.
//
// Wire format (little endian):
//
//	magic[4] "YBIM" | version u8 | seq u32 | stamp_ns i64 |
//	frame_id_len u16 | frame_id | height u32 | width u32 |
//	encoding_len u8 | encoding | big_endian u8 | step u32 |
//	data_len u32 | data
func (m *Image) Encode() []byte {
	size := 4 + 1 + 4 + 8 + 2 + len(m.Header.FrameID) + 4 + 4 + 1 + len(m.Encoding) + 1 + 4 + 4 + len(m.Data)
	buf := make([]byte, 0, size)

	buf = append(buf, imageMagic[:]...)
	buf = append(buf, imageVersion)
	buf = binary.LittleEndian.AppendUint32(buf, m.Header.Seq)
	var stamp int64
	if !m.Header.Stamp.IsZero() {
		stamp = m.Header.Stamp.UnixNano()
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(stamp))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Header.FrameID)))
	buf = append(buf, m.Header.FrameID...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Height))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Width))
	buf = append(buf, byte(len(m.Encoding)))
	buf = append(buf, m.Encoding...)
	if m.IsBigEndian {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Step))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Data)))
	buf = append(buf, m.Data...)

	return buf
}

// Decode deserializes an image from wire format. The pixel data aliases data.
func (m *Image) Decode(data []byte) error {
	r := reader{buf: data}

	magic := r.bytes(4)
	if r.err != nil {
		return &DecodeError{Field: "magic", Err: r.err}
	}
	if [4]byte(magic) != imageMagic {
		return &DecodeError{Field: "magic", Err: fmt.Errorf("got %q", magic)}
	}
	if v := r.u8(); r.err != nil || v != imageVersion {
		return &DecodeError{Field: "version", Err: orErr(r.err, fmt.Errorf("unsupported version %d", v))}
	}

	m.Header.Seq = r.u32()
	stamp := int64(r.u64())
	if r.err != nil {
		return &DecodeError{Field: "header", Err: r.err}
	}
	if stamp == 0 {
		m.Header.Stamp = time.Time{}
	} else {
		m.Header.Stamp = time.Unix(0, stamp)
	}
	m.Header.FrameID = string(r.bytes(int(r.u16())))
	if r.err != nil {
		return &DecodeError{Field: "frame_id", Err: r.err}
	}

	m.Height = int(r.u32())
	m.Width = int(r.u32())
	m.Encoding = string(r.bytes(int(r.u8())))
	m.IsBigEndian = r.u8() != 0
	m.Step = int(r.u32())
	if r.err != nil {
		return &DecodeError{Field: "layout", Err: r.err}
	}

	m.Data = r.bytes(int(r.u32()))
	if r.err != nil {
		return &DecodeError{Field: "data", Err: r.err}
	}
	if len(m.Data) != m.Step*m.Height {
		return &DecodeError{
			Field: "data",
			Err:   fmt.Errorf("length %d does not match step %d * height %d", len(m.Data), m.Step, m.Height),
		}
	}

	return nil
}

// DecodeImage is a convenience wrapper around Image.Decode.
func DecodeImage(data []byte) (*Image, error) {
	var m Image
	if err := m.Decode(data); err != nil {
		return nil, err
	}
	return &m, nil
}

// reader is a sticky-error little endian cursor.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = errShort
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func orErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
