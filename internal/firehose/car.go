package firehose

import (
	"encoding/binary"
	"fmt"
)

type carHeader struct {
	Version uint64 `cbor:"version"`
}

// ReadCAR indexes the blocks of a CAR v1 archive by their raw binary CID.
func ReadCAR(data []byte) (map[string][]byte, error) {
	hlen, n := binary.Uvarint(data)
	if n <= 0 || hlen > uint64(len(data)-n) {
		return nil, fmt.Errorf("car header length out of range")
	}
	var hdr carHeader
	if err := decMode.Unmarshal(data[n:n+int(hlen)], &hdr); err != nil {
		return nil, fmt.Errorf("car header: %w", err)
	}
	if hdr.Version != 1 {
		return nil, fmt.Errorf("unsupported car version %d", hdr.Version)
	}
	data = data[n+int(hlen):]

	blocks := make(map[string][]byte)
	for len(data) > 0 {
		slen, n := binary.Uvarint(data)
		if n <= 0 || slen > uint64(len(data)-n) {
			return nil, fmt.Errorf("car section length out of range")
		}
		section := data[n : n+int(slen)]
		clen, err := cidLength(section)
		if err != nil {
			return nil, err
		}
		blocks[string(section[:clen])] = section[clen:]
		data = data[n+int(slen):]
	}
	return blocks, nil
}

// cidLength returns the byte length of the binary CID at the start of b.
func cidLength(b []byte) (int, error) {
	// CIDv0 is a bare sha2-256 multihash.
	if len(b) >= 34 && b[0] == 0x12 && b[1] == 0x20 {
		return 34, nil
	}
	off := 0
	// version, codec, multihash function
	for i := 0; i < 3; i++ {
		_, n := binary.Uvarint(b[off:])
		if n <= 0 {
			return 0, fmt.Errorf("truncated cid")
		}
		off += n
	}
	dlen, n := binary.Uvarint(b[off:])
	if n <= 0 || dlen > uint64(len(b)-off-n) {
		return 0, fmt.Errorf("truncated cid digest")
	}
	return off + n + int(dlen), nil
}
