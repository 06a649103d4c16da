package safe

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"safe-trade-bot/internal/chain"
	"safe-trade-bot/internal/directory"
	"safe-trade-bot/internal/errs"
	"safe-trade-bot/internal/token"
)

// fakeBackend answers wallet view calls and captures broadcast transactions.
type fakeBackend struct {
	owners    []common.Address
	threshold int64
	nonce     int64
	code      []byte
	native    *big.Int

	codeCalls int
	sent      []*types.Transaction
	receipt   *types.Receipt
}

func (f *fakeBackend) Network() token.NetworkKey { return "base" }
func (f *fakeBackend) ChainID() *big.Int         { return big.NewInt(8453) }

func (f *fakeBackend) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	f.codeCalls++
	return f.code, nil
}

func (f *fakeBackend) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if f.native == nil {
		return big.NewInt(0), nil
	}
	return f.native, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	switch {
	case bytes.Equal(data[:4], walletABI.Methods["getOwners"].ID):
		return walletABI.Methods["getOwners"].Outputs.Pack(f.owners)
	case bytes.Equal(data[:4], walletABI.Methods["getThreshold"].ID):
		return walletABI.Methods["getThreshold"].Outputs.Pack(big.NewInt(f.threshold))
	case bytes.Equal(data[:4], walletABI.Methods["nonce"].ID):
		return walletABI.Methods["nonce"].Outputs.Pack(big.NewInt(f.nonce))
	case bytes.Equal(data[:4], walletABI.Methods["getTransactionHash"].ID):
		digest := crypto.Keccak256(data)
		return digest, nil
	}
	return nil, errs.New(errs.RPCConnectionFailed, "unexpected call")
}

func (f *fakeBackend) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SuggestFees(ctx context.Context, opts chain.FeeOptions) (chain.Fees, error) {
	return chain.DynamicFees(big.NewInt(1_000_000_000), big.NewInt(1_000_000)), nil
}

func (f *fakeBackend) SendTx(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func TestExecTransaction(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	walletAddr := common.HexToAddress("0x5afe000000000000000000000000000000000001")

	backend := &fakeBackend{owners: []common.Address{signer}, threshold: 1, nonce: 42}
	w := NewWallet(backend, walletAddr, key, chain.FeeOptions{}, time.Minute)

	receipt, err := w.ExecTransaction(context.Background(), Call{
		To:   common.HexToAddress("0xdef1000000000000000000000000000000000000"),
		Data: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("ExecTransaction: %v", err)
	}
	if !ReceiptOK(receipt) {
		t.Error("expected successful receipt")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 broadcast tx, got %d", len(backend.sent))
	}

	tx := backend.sent[0]
	if tx.To() == nil || *tx.To() != walletAddr {
		t.Errorf("outer tx must target the wallet, got %v", tx.To())
	}
	if tx.Nonce() != 7 {
		t.Errorf("outer nonce = %d, want signer pending nonce", tx.Nonce())
	}
	if tx.Type() != types.DynamicFeeTxType {
		t.Errorf("expected EIP-1559 tx, got type %d", tx.Type())
	}
	if !bytes.Equal(tx.Data()[:4], walletABI.Methods["execTransaction"].ID) {
		t.Error("outer calldata is not execTransaction")
	}
	// gas estimate + 20% headroom
	if tx.Gas() != 120_000 {
		t.Errorf("gas = %d, want 120000", tx.Gas())
	}

	// the signature inside execTransaction must recover to the owner
	args, err := walletABI.Methods["execTransaction"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack execTransaction: %v", err)
	}
	sig := args[9].([]byte)
	if len(sig) != 65 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("signature v = %d, want 27 or 28", v)
	}
}

func TestWalletViews(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	backend := &fakeBackend{owners: []common.Address{signer}, threshold: 1, nonce: 9}
	w := NewWallet(backend, common.HexToAddress("0x5afe"), key, chain.FeeOptions{}, time.Minute)

	owners, err := w.Owners(context.Background())
	if err != nil || len(owners) != 1 || owners[0] != signer {
		t.Errorf("Owners = %v, %v", owners, err)
	}
	th, err := w.Threshold(context.Background())
	if err != nil || th != 1 {
		t.Errorf("Threshold = %d, %v", th, err)
	}
	n, err := w.Nonce(context.Background())
	if err != nil || n.Int64() != 9 {
		t.Errorf("Nonce = %v, %v", n, err)
	}
}

func validatorFixture(backend *fakeBackend, signer common.Address, minNative *big.Int) *Validator {
	dir := directory.NewStatic([]directory.Record{{
		CallerID:      "caller-1",
		WalletAddress: "0x5afe000000000000000000000000000000000001",
		Deployments: []directory.Deployment{
			{Network: "base", Address: "0x5afe000000000000000000000000000000000001", Active: true},
		},
	}})
	return NewValidator(dir, map[token.NetworkKey]ChainReader{"base": backend}, signer, minNative)
}

func TestValidate(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	backend := &fakeBackend{
		owners:    []common.Address{signer},
		threshold: 1,
		code:      []byte{0x60, 0x80},
		native:    big.NewInt(1_000_000),
	}
	v := validatorFixture(backend, signer, big.NewInt(100))

	res, err := v.Validate(context.Background(), "caller-1", "0x5afe000000000000000000000000000000000001", "base", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Threshold != 1 || len(res.Owners) != 1 {
		t.Errorf("result = %+v", res)
	}

	// second validation within the TTL hits the cache
	if _, err := v.Validate(context.Background(), "caller-1", "0x5afe000000000000000000000000000000000001", "base", false); err != nil {
		t.Fatal(err)
	}
	if backend.codeCalls != 1 {
		t.Errorf("expected 1 on-chain validation, got %d", backend.codeCalls)
	}

	v.Invalidate("0x5afe000000000000000000000000000000000001", "base")
	if _, err := v.Validate(context.Background(), "caller-1", "0x5afe000000000000000000000000000000000001", "base", false); err != nil {
		t.Fatal(err)
	}
	if backend.codeCalls != 2 {
		t.Errorf("expected revalidation after invalidate, got %d calls", backend.codeCalls)
	}
}

func TestValidateRejections(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	wallet := "0x5afe000000000000000000000000000000000001"

	cases := []struct {
		name    string
		backend *fakeBackend
		network token.NetworkKey
		signer  common.Address
		want    errs.Code
	}{
		{"unsupported network", &fakeBackend{}, "optimism", signer, errs.UnsupportedNetwork},
		{"no code", &fakeBackend{owners: []common.Address{signer}, threshold: 1}, "base", signer, errs.SafeNotDeployed},
		{"threshold above one", &fakeBackend{owners: []common.Address{signer, {0x02}}, threshold: 2, code: []byte{1}}, "base", signer, errs.SafeInvalidConfiguration},
		{"signer not owner", &fakeBackend{owners: []common.Address{{0x03}}, threshold: 1, code: []byte{1}}, "base", signer, errs.SafeInvalidConfiguration},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v := validatorFixture(c.backend, c.signer, nil)
			_, err := v.Validate(context.Background(), "caller-1", wallet, c.network, false)
			if errs.CodeOf(err) != c.want {
				t.Errorf("got %v, want %s", err, c.want)
			}
		})
	}
}

func TestValidateNativeBalanceAdvisory(t *testing.T) {
	key, _ := crypto.GenerateKey()
	signer := crypto.PubkeyToAddress(key.PublicKey)
	backend := &fakeBackend{
		owners:    []common.Address{signer},
		threshold: 1,
		code:      []byte{1},
		native:    big.NewInt(10),
	}
	v := validatorFixture(backend, signer, big.NewInt(1_000))

	// stablecoin-funded trade: low gas is only a warning
	if _, err := v.Validate(context.Background(), "caller-1", "0x5afe000000000000000000000000000000000001", "base", false); err != nil {
		t.Errorf("advisory must not fail the trade: %v", err)
	}

	// native-funded trade: low gas is fatal
	_, err := v.Validate(context.Background(), "caller-1", "0x5afe000000000000000000000000000000000001", "base", true)
	if errs.CodeOf(err) != errs.SafeInsufficientBalance {
		t.Errorf("expected SAFE_INSUFFICIENT_BALANCE, got %v", err)
	}
}
