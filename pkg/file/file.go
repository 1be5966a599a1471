// Package file provides the file record and block level file handling
//
// Main types:
//   - FileRecord: metadata of one outsourced file (id, scheme, optional Merkle root)
//   - BlockStore: newline-delimited block persistence
//
// Usage:
//   - The owner reads its source file into blocks with ReadBlocks
//   - The provider keeps the single outsourced payload in a BlockStore
//   - GenerateRandomData produces test input files
//
// Notes:
//   - A block is one line of the source file without its newline
//   - Block order is the implicit block index
package file

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type FileRecord struct {
	FileID    string    `json:"fileId"`
	Root      []byte    `json:"root,omitempty"`
	Scheme    string    `json:"scheme"`
	Blocks    int       `json:"blocks"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewFileRecord assigns a fresh file id.
func NewFileRecord(scheme string, blocks int) FileRecord {
	return FileRecord{
		FileID:    uuid.NewString(),
		Scheme:    scheme,
		Blocks:    blocks,
		CreatedAt: time.Now(),
	}
}

func (r FileRecord) RootHex() string {
	return hex.EncodeToString(r.Root)
}
