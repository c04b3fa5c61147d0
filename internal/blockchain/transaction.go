package blockchain

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeBudgetProgram is the compute budget program ID
const ComputeBudgetProgramID = "ComputeBudget111111111111111111111111111111"

// TransactionBuilder builds Solana transactions
type TransactionBuilder struct {
	wallet              *Wallet
	blockhashCache      *BlockhashCache
	priorityFeeLamports uint64
	computeUnitLimit    uint32
}

// NewTransactionBuilder creates a new transaction builder
func NewTransactionBuilder(wallet *Wallet, blockhashCache *BlockhashCache, priorityFeeLamports uint64) *TransactionBuilder {
	return &TransactionBuilder{
		wallet:              wallet,
		blockhashCache:      blockhashCache,
		priorityFeeLamports: priorityFeeLamports,
		computeUnitLimit:    600000, // Default for Jupiter swaps (bumped for reliability)
	}
}

// SetComputeUnitLimit sets the compute unit limit
func (b *TransactionBuilder) SetComputeUnitLimit(limit uint32) {
	b.computeUnitLimit = limit
}

// BuildComputeBudgetInstructions creates the compute budget instructions
func (b *TransactionBuilder) BuildComputeBudgetInstructions() (setLimit []byte, setPrice []byte) {
	// SetComputeUnitLimit instruction (instruction type 2)
	// Format: [1 byte instruction type] [4 bytes limit]
	setLimit = make([]byte, 5)
	setLimit[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(setLimit[1:], b.computeUnitLimit)

	// SetComputeUnitPrice instruction (instruction type 3)
	// Format: [1 byte instruction type] [8 bytes microLamports per CU]
	// Calculate: priorityFeeLamports / computeUnitLimit = microLamports per CU
	microLamportsPerCU := (b.priorityFeeLamports * 1_000_000) / uint64(b.computeUnitLimit)

	setPrice = make([]byte, 9)
	setPrice[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(setPrice[1:], microLamportsPerCU)

	return setLimit, setPrice
}

// ComputeBudgetProgramIDBytes returns the compute budget program ID as bytes
func ComputeBudgetProgramIDBytes() []byte {
	bytes, _ := base58.Decode(ComputeBudgetProgramID)
	return bytes
}

// SignSerializedTransaction signs a base64-encoded transaction from Jupiter
func (b *TransactionBuilder) SignSerializedTransaction(serializedTxBase64 string) (string, error) {
	// Decode the transaction
	txBytes, err := base64.StdEncoding.DecodeString(serializedTxBase64)
	if err != nil {
		return "", err
	}

	// Solana versioned transaction format:
	// [signature count] [signatures...] [message]
	// We need to sign the message and prepend our signature

	// For Jupiter swap transactions, they are typically versioned (v0)
	// The message starts after the signature section

	// Find message portion (skip signature count and placeholder signatures)
	// First byte is signature count in compact-u16 format
	sigCount := int(txBytes[0])
	if sigCount == 0 {
		// Message starts at byte 1
		message := txBytes[1:]
		signature := b.wallet.Sign(message)

		// Build signed transaction: [1 sig count][signature][message]
		signedTx := make([]byte, 1+64+len(message))
		signedTx[0] = 1 // 1 signature
		copy(signedTx[1:65], signature)
		copy(signedTx[65:], message)

		return base64.StdEncoding.EncodeToString(signedTx), nil
	}

	// If there are already signatures, we need to fill in ours
	// Position 0: signature count (1 byte for counts < 128)
	// Position 1-64: first signature slot (64 bytes)
	// After that: more signatures and then the message

	sigOffset := 1 // Skip sig count byte
	messageOffset := sigOffset + sigCount*64

	// Extract message
	message := txBytes[messageOffset:]

	// Sign message
	signature := b.wallet.Sign(message)

	// Copy signature into first slot
	copy(txBytes[sigOffset:sigOffset+64], signature)

	return base64.StdEncoding.EncodeToString(txBytes), nil
}

// ExtractSignature reads the first signature off a signed, base64-encoded
// transaction — the same compact-u16-prefixed signature section
// SignSerializedTransaction and BuildAndSignTipTransfer both write — and
// returns it base58-encoded, the form RPC signature-status lookups expect.
func ExtractSignature(signedTxBase64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(signedTxBase64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	if len(txBytes) < 1 {
		return "", fmt.Errorf("empty transaction")
	}

	sigCount := int(txBytes[0])
	if sigCount == 0 {
		return "", fmt.Errorf("transaction has no signatures")
	}
	if len(txBytes) < 1+64 {
		return "", fmt.Errorf("transaction too short for a signature")
	}

	return base58.Encode(txBytes[1:65]), nil
}

// GetRecentBlockhash returns the current cached blockhash
func (b *TransactionBuilder) GetRecentBlockhash() (string, error) {
	return b.blockhashCache.Get()
}

// SystemProgramID is the native System Program, used for the tip transfer
// that every bundle prepends ahead of the swap transaction.
const SystemProgramID = "11111111111111111111111111111111"

// systemTransferInstructionData encodes a System Program Transfer
// instruction: [4-byte little-endian instruction index = 2][8-byte
// little-endian lamports], mirroring the compute-budget instruction byte
// layout already used by BuildComputeBudgetInstructions.
func systemTransferInstructionData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // Transfer
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

// encodeCompactU16 encodes n using Solana's shortvec/compact-u16 format.
func encodeCompactU16(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

// BuildAndSignTipTransfer builds and signs a minimal legacy transaction that
// transfers lamports from the wallet to tipAccount, the shape BundleExecutor
// prepends ahead of the swap transaction in every bundle. Account order is
// [payer(signer,writable), tipAccount(writable), SystemProgram], matching
// the single-instruction transfer the original Jito tip-transaction helper
// builds.
func (b *TransactionBuilder) BuildAndSignTipTransfer(tipAccount string, lamports uint64) (string, error) {
	blockhash, err := b.blockhashCache.Get()
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}

	payerKey := b.wallet.PublicKey()
	tipKeyBytes, err := base58.Decode(tipAccount)
	if err != nil {
		return "", fmt.Errorf("decode tip account: %w", err)
	}
	sysProgBytes, err := base58.Decode(SystemProgramID)
	if err != nil {
		return "", fmt.Errorf("decode system program id: %w", err)
	}
	blockhashBytes, err := base58.Decode(blockhash)
	if err != nil {
		return "", fmt.Errorf("decode blockhash: %w", err)
	}

	var msg bytes.Buffer
	msg.WriteByte(1) // numRequiredSignatures
	msg.WriteByte(0) // numReadonlySignedAccounts
	msg.WriteByte(1) // numReadonlyUnsignedAccounts (System Program)

	msg.Write(encodeCompactU16(3)) // account key count
	msg.Write(payerKey)
	msg.Write(tipKeyBytes)
	msg.Write(sysProgBytes)

	msg.Write(blockhashBytes)

	msg.Write(encodeCompactU16(1)) // instruction count
	msg.WriteByte(2)                // programIdIndex -> SystemProgram
	msg.Write(encodeCompactU16(2))  // account indices count
	msg.WriteByte(0)                // payer
	msg.WriteByte(1)                // tip account
	data := systemTransferInstructionData(lamports)
	msg.Write(encodeCompactU16(len(data)))
	msg.Write(data)

	message := msg.Bytes()
	signature := b.wallet.Sign(message)

	var tx bytes.Buffer
	tx.Write(encodeCompactU16(1)) // signature count
	tx.Write(signature)
	tx.Write(message)

	return base64.StdEncoding.EncodeToString(tx.Bytes()), nil
}
