// Package store owns the translation from remote block shape to the
// persisted row shape and the exact SQL contract against the blocks
// table. It never retries internally — retry policy belongs to the
// orchestrator, so a fetch and its write are retried together.
package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/b-rucel/pulseexplorer/internal/rpcclient"
)

// zeroHash is substituted for any Merkle root the remote block omits, per
// spec: "missing Merkle roots -> 32 zero bytes (never null)".
var zeroHash = make([]byte, 32)

// Block is the persisted row shape described in spec §3.
type Block struct {
	Hash             []byte
	Number           uint64
	ParentHash       []byte
	Miner            []byte
	Timestamp        time.Time
	GasLimit         string // decimal string; arbitrary precision, never a Go int
	GasUsed          string
	BaseFeePerGas    *string // nullable: pre-EIP-1559 blocks have none
	TransactionsRoot []byte
	StateRoot        []byte
	ReceiptsRoot     []byte
	Difficulty       *string
	Nonce            []byte
	ExtraData        []byte // nullable
	Size             int32
	TransactionCount int
}

// Transform converts a remote block into its persisted row shape. It is
// the one place hex is decoded to bytes and decimal strings are derived —
// callers never re-decode or round-trip through text after this point.
func Transform(rb *rpcclient.RemoteBlock) (*Block, error) {
	number, err := decodeUint64Hex(rb.Number)
	if err != nil {
		return nil, fmt.Errorf("store: transform number: %w", err)
	}
	hash, err := decodeHexBytes(rb.Hash)
	if err != nil {
		return nil, fmt.Errorf("store: transform hash: %w", err)
	}
	parentHash, err := decodeHexBytes(rb.ParentHash)
	if err != nil {
		return nil, fmt.Errorf("store: transform parentHash: %w", err)
	}
	miner, err := decodeHexBytes(rb.Miner)
	if err != nil {
		return nil, fmt.Errorf("store: transform miner: %w", err)
	}
	timestampSecs, err := decodeUint64Hex(rb.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("store: transform timestamp: %w", err)
	}
	gasLimit, err := decodeDecimalHex(rb.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("store: transform gasLimit: %w", err)
	}
	gasUsed, err := decodeDecimalHex(rb.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("store: transform gasUsed: %w", err)
	}

	txRoot, err := decodeHexRootOrZero(rb.TransactionsRoot)
	if err != nil {
		return nil, fmt.Errorf("store: transform transactionsRoot: %w", err)
	}
	stateRoot, err := decodeHexRootOrZero(rb.StateRoot)
	if err != nil {
		return nil, fmt.Errorf("store: transform stateRoot: %w", err)
	}
	receiptsRoot, err := decodeHexRootOrZero(rb.ReceiptsRoot)
	if err != nil {
		return nil, fmt.Errorf("store: transform receiptsRoot: %w", err)
	}

	nonce, err := decodeHexBytesOrEmpty(rb.Nonce)
	if err != nil {
		return nil, fmt.Errorf("store: transform nonce: %w", err)
	}

	block := &Block{
		Hash:             hash,
		Number:           number,
		ParentHash:       parentHash,
		Miner:            miner,
		Timestamp:        time.UnixMilli(int64(timestampSecs) * 1000).UTC(),
		GasLimit:         gasLimit,
		GasUsed:          gasUsed,
		TransactionsRoot: txRoot,
		StateRoot:        stateRoot,
		ReceiptsRoot:     receiptsRoot,
		Nonce:            nonce,
		TransactionCount: len(rb.Transactions),
	}

	if rb.BaseFeePerGas != nil {
		v, err := decodeDecimalHex(*rb.BaseFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("store: transform baseFeePerGas: %w", err)
		}
		block.BaseFeePerGas = &v
	}
	if rb.Difficulty != nil {
		v, err := decodeDecimalHex(*rb.Difficulty)
		if err != nil {
			return nil, fmt.Errorf("store: transform difficulty: %w", err)
		}
		block.Difficulty = &v
	}
	if rb.ExtraData != nil {
		b, err := decodeHexBytes(*rb.ExtraData)
		if err != nil {
			return nil, fmt.Errorf("store: transform extraData: %w", err)
		}
		block.ExtraData = b
	}
	// size is best-effort: the remote field is not a standard part of the
	// JSON-RPC block object on every client, so absence just means 0.
	if rb.Size != nil {
		size, err := decodeUint64Hex(*rb.Size)
		if err != nil {
			return nil, fmt.Errorf("store: transform size: %w", err)
		}
		block.Size = int32(size)
	}

	return block, nil
}

func decodeUint64Hex(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return hexutil.DecodeUint64(s)
}

// decodeHexBytes decodes a "0x..." string via hexutil.Decode, padding an
// odd number of hex digits with a leading zero first since hexutil (like
// the RPC wire format itself) requires whole bytes.
func decodeHexBytes(s string) ([]byte, error) {
	if len(s)%2 == 1 {
		s = "0x0" + strings.TrimPrefix(s, "0x")
	}
	return hexutil.Decode(s)
}

func decodeHexBytesOrEmpty(s string) ([]byte, error) {
	if s == "" {
		return []byte{}, nil
	}
	return decodeHexBytes(s)
}

func decodeHexRootOrZero(s string) ([]byte, error) {
	if s == "" {
		return zeroHash, nil
	}
	b, err := decodeHexBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return zeroHash, nil
	}
	return b, nil
}

// decodeDecimalHex turns a "0x..." hex-encoded wide integer into its
// decimal string form, matching the store's NUMERIC(78,0) columns. It
// never narrows to a machine int, preserving full EVM-width precision.
func decodeDecimalHex(s string) (string, error) {
	if s == "" {
		return "0", nil
	}
	n, err := hexutil.DecodeBig(s)
	if err != nil {
		return "", fmt.Errorf("invalid hex integer %q: %w", s, err)
	}
	return n.String(), nil
}
