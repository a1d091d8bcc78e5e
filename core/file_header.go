package core

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	// FormatVersion is the current on-disk version of ncfile containers.
	FormatVersion uint8 = 1
	// ArrayFileMagic identifies an ncfile container ("NCAF").
	ArrayFileMagic uint32 = 0x4641434E
	// ArrayFileMagicString closes every ncfile container.
	ArrayFileMagicString = "CMIP6-NCAF-V1"
)

// ContainerHeader opens every container file. It is stored little-endian.
type ContainerHeader struct {
	Magic   uint32
	Version uint8
	// CreatedAt is a UnixNano timestamp.
	CreatedAt int64
	// Codec is the default block codec of the file; variables may override it.
	Codec CompressionType
}

// ContainerHeaderSize is the encoded size of a ContainerHeader.
var ContainerHeaderSize = binary.Size(ContainerHeader{})

// NewContainerHeader stamps a header for a file written now with codec.
func NewContainerHeader(codec CompressionType) ContainerHeader {
	return ContainerHeader{
		Magic:     ArrayFileMagic,
		Version:   FormatVersion,
		CreatedAt: time.Now().UnixNano(),
		Codec:     codec,
	}
}

// Created returns the creation time.
func (h ContainerHeader) Created() time.Time { return time.Unix(0, h.CreatedAt) }

// Validate checks magic, version and codec.
func (h ContainerHeader) Validate() error {
	if h.Magic != ArrayFileMagic {
		return fmt.Errorf("bad magic %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return fmt.Errorf("unsupported version %d", h.Version)
	}
	if h.Codec > CompressionDeflate {
		return fmt.Errorf("unknown codec %d", h.Codec)
	}
	return nil
}

// WriteTo encodes the header.
func (h ContainerHeader) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	return int64(ContainerHeaderSize), nil
}

// ReadContainerHeader decodes and validates a header.
func ReadContainerHeader(r io.Reader) (ContainerHeader, error) {
	var h ContainerHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("reading header: %w", err)
	}
	return h, h.Validate()
}
