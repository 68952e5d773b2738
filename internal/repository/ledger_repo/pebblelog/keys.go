package pebblelog

import "encoding/binary"

// Keyspace, lexicographically sortable:
//   - ledger/m                 last assigned sequence
//   - ledger/e/{seq_be8}       one encoded TransactionRecord
var (
	metaKey     = []byte("ledger/m")
	entryPrefix = []byte("ledger/e/")
)

func entryKey(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(entryPrefix):])
}
