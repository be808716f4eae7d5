package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestNewSubmissionDerivesIDFromTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)
	sub := NewSubmission("octo/vault/contracts/Token.sol", 85, common.HexToAddress("0x1"), "QmHash", now)

	require.Equal(t, now.UnixMilli(), sub.ID.Int64())
	require.NoError(t, sub.Validate())

	args := sub.Args()
	require.Len(t, args, 6)
	require.Equal(t, big.NewInt(85), args[2])
	require.Equal(t, big.NewInt(now.Unix()), args[3])
}

func TestSubmissionValidate(t *testing.T) {
	now := time.Now()
	require.Error(t, NewSubmission("", 1, common.Address{}, "cid", now).Validate())
	require.Error(t, NewSubmission("c", 1, common.Address{}, "", now).Validate())
	require.Error(t, NewSubmission("c", -1, common.Address{}, "cid", now).Validate())
	require.Error(t, Submission{ContractID: "c", CID: "cid"}.Validate())
	require.NoError(t, NewSubmission("c", 150, common.Address{}, "cid", now).Validate())
}

func TestSubmitAuditPackRoundTrip(t *testing.T) {
	parsed, err := ParseRegistryABI()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	submitter := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	sub := NewSubmission("octo/vault/Token.sol", 150, submitter, "QmHash", now)

	data, err := parsed.Pack(methodSubmit, sub.Args()...)
	require.NoError(t, err)
	require.Equal(t, parsed.Methods[methodSubmit].ID, data[:4])

	values, err := parsed.Methods[methodSubmit].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, "octo/vault/Token.sol", values[0])
	require.Equal(t, sub.ID, values[1])
	require.Equal(t, big.NewInt(150), values[2])
	require.Equal(t, big.NewInt(now.Unix()), values[3])
	require.Equal(t, submitter, values[4])
	require.Equal(t, "QmHash", values[5])
}

func TestDecodeAudits(t *testing.T) {
	parsed, err := ParseRegistryABI()
	require.NoError(t, err)

	submitter := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	encoded, err := parsed.Methods[methodGet].Outputs.Pack([]onchainAudit{
		{Id: big.NewInt(1700000000123), Score: big.NewInt(85), Timestamp: big.NewInt(1700000000), Submitter: submitter, Cid: "QmA"},
		{Id: big.NewInt(1700000100456), Score: big.NewInt(40), Timestamp: big.NewInt(1700000100), Submitter: submitter, Cid: "QmB"},
	})
	require.NoError(t, err)

	out, err := parsed.Unpack(methodGet, encoded)
	require.NoError(t, err)

	records, err := decodeAudits(out)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(1700000000123), records[0].ID)
	require.Equal(t, 85, records[0].Score)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), records[0].Timestamp)
	require.Equal(t, submitter.Hex(), records[1].Submitter)
	require.Equal(t, "QmB", records[1].CID)

	_, err = decodeAudits(nil)
	require.Error(t, err)
}

func TestNewClientReadOnlyAndKeyed(t *testing.T) {
	_, err := NewClient(nil, "not-an-address", nil, big.NewInt(545), 0, nil)
	require.Error(t, err)

	c, err := NewClient(nil, "0x00000000000000000000000000000000000000cc", nil, big.NewInt(545), 0, nil)
	require.NoError(t, err)
	require.Equal(t, common.Address{}, c.Sender())
	_, err = c.Submit(context.Background(), Submission{})
	require.ErrorIs(t, err, ErrReadOnly)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err = NewClient(nil, "0x00000000000000000000000000000000000000cc", key, big.NewInt(545), 300000, nil)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), c.Sender())
}
