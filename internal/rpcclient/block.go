package rpcclient

import "encoding/json"

// RemoteBlock is the decoded shape of an eth_getBlockByNumber response. Its
// fields stay as hex strings / raw JSON here; internal/store owns the
// translation into the persisted row (decimal strings, raw bytes).
//
// Transactions is left undecoded: the core only ever needs len(Transactions),
// so whether the node returned hash strings or full transaction objects is
// irrelevant to everything downstream of the RPC client.
type RemoteBlock struct {
	Number           string            `json:"number"`
	Hash             string            `json:"hash"`
	ParentHash       string            `json:"parentHash"`
	Miner            string            `json:"miner"`
	Timestamp        string            `json:"timestamp"`
	GasLimit         string            `json:"gasLimit"`
	GasUsed          string            `json:"gasUsed"`
	BaseFeePerGas    *string           `json:"baseFeePerGas"`
	TransactionsRoot string            `json:"transactionsRoot"`
	StateRoot        string            `json:"stateRoot"`
	ReceiptsRoot     string            `json:"receiptsRoot"`
	Difficulty       *string           `json:"difficulty"`
	Nonce            string            `json:"nonce"`
	ExtraData        *string           `json:"extraData"`
	Size             *string           `json:"size"`
	Transactions     []json.RawMessage `json:"transactions"`
}
