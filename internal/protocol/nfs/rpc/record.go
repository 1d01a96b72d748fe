package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FragmentHeader is the 4-byte record marker preceding each fragment.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

// ReadFragmentHeader reads one record marker from r.
func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}

	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&lastFragmentBit != 0,
		Length: header &^ lastFragmentBit,
	}, nil
}

// ReadRecord reassembles a complete record from one or more fragments.
//
// alloc is used to obtain the buffer for single-fragment records, which
// lets callers plug in a pool. Multi-fragment records are rare for NFS
// over TCP and are assembled in a plain slice.
func ReadRecord(r io.Reader, alloc func(uint32) []byte) ([]byte, error) {
	header, err := ReadFragmentHeader(r)
	if err != nil {
		return nil, err
	}
	if header.Length > MaxRecordSize {
		return nil, fmt.Errorf("fragment too large: %d bytes", header.Length)
	}

	record := alloc(header.Length)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, fmt.Errorf("read fragment: %w", err)
	}

	for !header.IsLast {
		header, err = ReadFragmentHeader(r)
		if err != nil {
			return nil, fmt.Errorf("read continuation header: %w", err)
		}
		if uint64(len(record))+uint64(header.Length) > MaxRecordSize {
			return nil, fmt.Errorf("record too large: %d bytes", len(record)+int(header.Length))
		}

		start := len(record)
		record = append(record[:start:start], make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read continuation fragment: %w", err)
		}
	}

	return record, nil
}
