package ton

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"

	"github.com/ads-marketplace/dealflow/internal/models"
)

const testAddr = "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N"

func TestExtractComment(t *testing.T) {
	body, err := wallet.CreateCommentCell("deal 42")
	require.NoError(t, err)

	assert.Equal(t, "deal 42", extractComment(&tlb.InternalMessage{Body: body}))
	assert.Equal(t, "", extractComment(&tlb.InternalMessage{}))
}

func TestIncomingTransferSkipsBounced(t *testing.T) {
	src := address.MustParseAddr(testAddr)
	at := time.Unix(1_700_000_000, 0)

	msg := &tlb.InternalMessage{
		SrcAddr: src,
		Amount:  tlb.FromNanoTON(big.NewInt(2_500_000_000)),
	}
	tx := &tlb.Transaction{LT: 7, Hash: []byte{0xab}}
	tx.IO.In = &tlb.Message{MsgType: tlb.MsgTypeInternal, Msg: msg}

	in, ok := incomingTransfer(tx, at)
	require.True(t, ok)
	assert.Equal(t, "7:ab", in.TxRef)
	assert.True(t, in.Amount.Equal(models.FromNano(big.NewInt(2_500_000_000))))
	assert.Equal(t, src.String(), in.FromAddress)

	msg.Bounced = true
	_, ok = incomingTransfer(tx, at)
	assert.False(t, ok)

	tx.IO.In = nil
	_, ok = incomingTransfer(tx, at)
	assert.False(t, ok)
}

func TestSentTo(t *testing.T) {
	dst := address.MustParseAddr(testAddr)
	nonBounce := dst.Bounce(false).String()
	out := []models.OutgoingTransfer{
		{ToAddress: dst.String(), Comment: "deal 1 fee"},
		{ToAddress: nonBounce, Comment: "deal 1 payout"},
	}

	tests := []struct {
		name string
		addr string
		memo string
		want bool
	}{
		{"same address other flags", testAddr, "deal 1 payout", true},
		{"wrong memo", testAddr, "deal 2 payout", false},
		{"unparsable address", "nope", "deal 1 payout", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sentTo(out, tt.addr, tt.memo))
		})
	}
	assert.False(t, sentTo(nil, testAddr, "deal 1 payout"))
}

func TestOutgoingTransfersWithoutMessages(t *testing.T) {
	tx := &tlb.Transaction{LT: 9, Hash: []byte{0x01}}
	assert.Empty(t, outgoingTransfers(tx, time.Now()))
}
