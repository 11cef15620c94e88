// Package wire implements the channel's wire envelope: the length-delimited
// message framing described in §4.3/§6 of the spec
// (varint(kind_id) || varint(payload_len) || payload), the kind registry
// that maps message kind names to deterministic per-process kind ids, and
// the built-in message payloads (version, verack, ping, pong, getaddr,
// addr).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/darkrenaissance/darkfi-net/errs"
)

// MaxVarintLen is the maximum encoded length of a LEB128 varint under this
// wire format, per §6 ("maximum 10 bytes").
const MaxVarintLen = binary.MaxVarintLen64

// MaxPayloadLen is the largest payload a single message may carry (§4.3,
// §6, §8): exactly 64 MiB is accepted, 64 MiB + 1 is rejected.
const MaxPayloadLen = 64 * 1024 * 1024

// writeUvarint encodes v as a little-endian base-128 varint (LEB128) and
// writes it to w. encoding/binary already implements exactly this format
// (see DESIGN.md for why this is the one place the wire layer reaches for
// the standard library instead of a corpus-grounded third-party encoder).
func writeUvarint(w io.Writer, v uint64) error {
	var buf [MaxVarintLen]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

// readUvarint decodes a LEB128 varint from r one byte at a time, bounding
// the read to MaxVarintLen bytes so a malicious peer cannot force an
// unbounded read with a never-terminating varint.
func readUvarint(r io.Reader) (uint64, error) {
	var buf [1]byte
	var x uint64
	var s uint
	for i := 0; i < MaxVarintLen; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		if b < 0x80 {
			if i == MaxVarintLen-1 && b > 1 {
				return 0, fmt.Errorf("wire: varint overflow")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, fmt.Errorf("wire: varint too long")
}

// checkPayloadLen enforces the §4.3 payload size bound, returning
// errs.ErrMessageTooLarge (never merely a truncation error) when exceeded.
func checkPayloadLen(n uint64) error {
	if n > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", errs.ErrMessageTooLarge, n)
	}
	return nil
}
