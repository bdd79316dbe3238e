package envelope

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// CanonicalBytes produces the deterministic byte sequence an envelope is
// signed over. Fields are written in a fixed order with fixed-width integer
// encodings and sorted attribute keys so that two processes serializing the
// same logical envelope always produce identical bytes, independent of map
// iteration order or encoder whitespace choices. The Signature field itself
// is never part of the encoding.
func CanonicalBytes(e Envelope) []byte {
	var buf bytes.Buffer

	writeUint32(&buf, e.Version)
	writeString(&buf, e.SourceAgentID)
	writeString(&buf, e.EventID)
	writeInt64(&buf, e.TimestampNs)
	writeString(&buf, string(e.Kind))
	writeBytes(&buf, e.Payload)

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeUint32(&buf, uint32(len(keys)))
	for _, k := range keys {
		writeString(&buf, k)
		writeString(&buf, e.Attributes[k])
	}

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}
