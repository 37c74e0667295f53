package model

// BlobKind discriminates the serialization format of a transaction blob.
type BlobKind int

const (
	BlobLegacy    BlobKind = 0
	BlobVersioned BlobKind = 1
)

func (k BlobKind) String() string {
	switch k {
	case BlobLegacy:
		return "legacy"
	case BlobVersioned:
		return "versioned"
	default:
		return "unknown"
	}
}

func (k BlobKind) Valid() bool {
	return k == BlobLegacy || k == BlobVersioned
}

// TaggedBlob is one encoded transaction on the wire. Requests carry base58
// data, responses carry base64.
type TaggedBlob struct {
	Kind BlobKind `json:"t"`
	Data string   `json:"d"`
}

// Transaction is an opaque serialized ledger transaction.
type Transaction struct {
	Kind BlobKind
	Raw  []byte
}
