package kv

import "context"

const (
	// DefaultScanLimit is applied when a scan request passes limit 0.
	DefaultScanLimit = 128
	// MaxScanResults caps the number of entries a single scan may return.
	MaxScanResults = 1024
)

// Entry is a single key-value pair with revision metadata.
type Entry struct {
	Key   string
	Value []byte

	// Version counts modifications of this key since creation (1 = never
	// overwritten). CreateRevision and ModRevision are store-wide revision
	// counters captured at creation and last modification.
	Version        uint64
	CreateRevision uint64
	ModRevision    uint64
}

// ReadRequest identifies a single key to read.
type ReadRequest struct {
	Key string
}

// ReadResult holds the entry, or nil when the key does not exist.
type ReadResult struct {
	KV *Entry
}

// ScanRequest asks for entries under a key prefix.
type ScanRequest struct {
	Prefix            string
	Limit             uint32
	ContinuationToken string
}

// ScanResult holds scan entries in lexicographic key order.
type ScanResult struct {
	Entries           []Entry
	Count             int
	IsTruncated       bool
	ContinuationToken string
}

// WriteCommand is the closed union of mutation commands.
type WriteCommand interface {
	isWriteCommand()
}

// Set writes a value, creating or overwriting the key.
type Set struct {
	Key   string
	Value []byte
}

// Delete removes a key. Deleting an absent key succeeds.
type Delete struct {
	Key string
}

// CompareAndSwap writes NewValue only when the current value equals
// Expected. A nil Expected requires the key to be absent (create-if-absent).
type CompareAndSwap struct {
	Key      string
	Expected []byte
	NewValue []byte
}

// CompareAndDelete removes the key only when the current value equals
// Expected.
type CompareAndDelete struct {
	Key      string
	Expected []byte
}

// Batch applies all operations unconditionally, in order.
type Batch struct {
	Operations []BatchOp
}

// ConditionalBatch applies the operations only when every condition holds.
type ConditionalBatch struct {
	Conditions []Condition
	Operations []BatchOp
}

func (Set) isWriteCommand()              {}
func (Delete) isWriteCommand()           {}
func (CompareAndSwap) isWriteCommand()   {}
func (CompareAndDelete) isWriteCommand() {}
func (Batch) isWriteCommand()            {}
func (ConditionalBatch) isWriteCommand() {}

// BatchOp is the closed union of batch member operations.
type BatchOp interface {
	isBatchOp()
}

// BatchSet writes a key within a batch.
type BatchSet struct {
	Key   string
	Value []byte
}

// BatchDelete removes a key within a batch.
type BatchDelete struct {
	Key string
}

func (BatchSet) isBatchOp()    {}
func (BatchDelete) isBatchOp() {}

// Condition is the closed union of conditional-batch predicates.
type Condition interface {
	isCondition()
}

// ValueEquals holds when the key exists with exactly the expected value.
type ValueEquals struct {
	Key      string
	Expected []byte
}

// KeyExists holds when the key is present.
type KeyExists struct {
	Key string
}

// KeyNotExists holds when the key is absent.
type KeyNotExists struct {
	Key string
}

func (ValueEquals) isCondition()  {}
func (KeyExists) isCondition()    {}
func (KeyNotExists) isCondition() {}

// WriteResult reports the outcome of a successful write command.
type WriteResult struct {
	// BatchApplied is the number of operations applied, set for Batch and
	// ConditionalBatch commands.
	BatchApplied *int
	// ConditionsMet reports whether a ConditionalBatch's conditions held.
	// A false value is not an error: the command evaluated cleanly and
	// applied nothing.
	ConditionsMet *bool
	// FailedConditionIndex identifies the first failing condition when
	// ConditionsMet is false.
	FailedConditionIndex *int
}

// Store is the key-value store contract.
type Store interface {
	Read(ctx context.Context, req ReadRequest) (ReadResult, error)
	Write(ctx context.Context, cmd WriteCommand) (WriteResult, error)
	Scan(ctx context.Context, req ScanRequest) (ScanResult, error)
}

// BoundScanLimit clamps a requested scan limit to [1, MaxScanResults],
// substituting DefaultScanLimit for 0.
func BoundScanLimit(limit uint32) uint32 {
	if limit == 0 {
		return DefaultScanLimit
	}
	if limit > MaxScanResults {
		return MaxScanResults
	}
	return limit
}
