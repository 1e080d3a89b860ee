package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
)

const (
	txBatchSize = 50
	// Upper bound on history pages scanned per incoming check.
	maxTxPages = 10
)

// Ledger is the TON implementation of the escrow ledger. Every escrow
// account is its own v4r2 wallet derived from a 24-word seed.
type Ledger struct {
	api ton.APIClientWrapped
	log *zap.Logger
}

func NewLedger(api ton.APIClientWrapped, log *zap.Logger) *Ledger {
	return &Ledger{api: api, log: log}
}

func (l *Ledger) CreateAccount(ctx context.Context) (*models.LedgerAccount, error) {
	seed := wallet.NewSeed()
	w, err := wallet.FromSeed(l.api, seed, wallet.V4R2)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerUnavailable, err, "derive escrow wallet")
	}
	return &models.LedgerAccount{
		Address: w.WalletAddress().String(),
		Secret:  []byte(strings.Join(seed, " ")),
	}, nil
}

// Balance returns the current on-chain balance; an uninitialized account has zero.
func (l *Ledger) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	account, err := l.getAccount(ctx, addr)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil || !account.IsActive || account.State == nil {
		return decimal.Zero, nil
	}
	return models.FromNano(account.State.Balance.Nano()), nil
}

// IncomingSince lists non-bounced incoming transfers newer than since, oldest first.
func (l *Ledger) IncomingSince(ctx context.Context, addr string, since time.Time) ([]models.IncomingTransfer, error) {
	var out []models.IncomingTransfer
	err := l.scan(ctx, addr, since, func(tx *tlb.Transaction, at time.Time) {
		if in, ok := incomingTransfer(tx, at); ok {
			out = append(out, in)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// OutgoingSince lists internal messages sent from addr newer than since, oldest first.
func (l *Ledger) OutgoingSince(ctx context.Context, addr string, since time.Time) ([]models.OutgoingTransfer, error) {
	var out []models.OutgoingTransfer
	err := l.scan(ctx, addr, since, func(tx *tlb.Transaction, at time.Time) {
		out = append(out, outgoingTransfers(tx, at)...)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// scan walks the account history from the newest transaction back to since.
func (l *Ledger) scan(ctx context.Context, addr string, since time.Time, fn func(tx *tlb.Transaction, at time.Time)) error {
	a, err := address.ParseAddr(addr)
	if err != nil {
		return apperr.Validation("invalid ledger address %q", addr)
	}
	account, err := l.getAccount(ctx, addr)
	if err != nil {
		return err
	}
	if account == nil || account.LastTxLT == 0 {
		return nil
	}

	lt, hash := account.LastTxLT, account.LastTxHash
	for page := 0; page < maxTxPages; page++ {
		txs, err := l.api.ListTransactions(ctx, a, txBatchSize, lt, hash)
		if err != nil {
			return apperr.Wrap(apperr.KindLedgerUnavailable, err, "list transactions (lt=%d)", lt)
		}
		if len(txs) == 0 {
			return nil
		}

		reachedSince := false
		for _, tx := range txs {
			at := time.Unix(int64(tx.Now), 0)
			if at.Before(since) {
				reachedSince = true
				continue
			}
			fn(tx, at)
		}

		oldest := txs[0]
		if reachedSince || len(txs) < txBatchSize || oldest.PrevTxLT == 0 {
			return nil
		}
		lt, hash = oldest.PrevTxLT, oldest.PrevTxHash
	}
	return nil
}

// Transfer signs with the given seed and sends either an exact amount or the
// whole balance. A whole-balance transfer destroys the wallet.
func (l *Ledger) Transfer(ctx context.Context, secret []byte, to string, amount models.TransferAmount, memo string) (*models.TransferReceipt, error) {
	dst, err := address.ParseAddr(to)
	if err != nil {
		return nil, apperr.Validation("invalid destination address %q", to)
	}
	w, err := wallet.FromSeed(l.api, strings.Fields(string(secret)), wallet.V4R2)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerTransferFailed, err, "restore escrow wallet")
	}

	body, err := wallet.CreateCommentCell(memo)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerTransferFailed, err, "build comment")
	}

	// Exact transfers must fail the action phase rather than be skipped, so a
	// confirmed transaction without the message is reported as a failure.
	msg := &wallet.Message{
		Mode: wallet.PayGasSeparately,
		InternalMessage: &tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      false,
			DstAddr:     dst,
			Amount:      tlb.FromNanoTON(models.ToNano(amount.Exact)),
			Body:        body,
		},
	}
	if amount.All {
		msg.Mode = wallet.CarryAllRemainingBalance + wallet.DestroyAccountIfZero
		msg.InternalMessage.Amount = tlb.ZeroCoins
	}

	tx, _, err := w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerTransferFailed, err, "send to %s", to)
	}
	if !sentTo(outgoingTransfers(tx, time.Time{}), to, memo) {
		return nil, apperr.New(apperr.KindLedgerTransferFailed,
			"transaction %s confirmed without a message to %s", hex.EncodeToString(tx.Hash), to)
	}

	ref := hex.EncodeToString(tx.Hash)
	l.log.Info("ledger transfer sent",
		zap.String("from", w.WalletAddress().String()),
		zap.String("to", to),
		zap.Bool("all", amount.All),
		zap.String("amount", amount.Exact.String()),
		zap.String("tx", ref),
	)
	return &models.TransferReceipt{TxRef: ref}, nil
}

func (l *Ledger) getAccount(ctx context.Context, addr string) (*tlb.Account, error) {
	a, err := address.ParseAddr(addr)
	if err != nil {
		return nil, apperr.Validation("invalid ledger address %q", addr)
	}
	block, err := l.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerUnavailable, err, "get master block")
	}
	account, err := l.api.GetAccount(ctx, block, a)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindLedgerUnavailable, err, "get account %s", addr)
	}
	return account, nil
}

func incomingTransfer(tx *tlb.Transaction, at time.Time) (models.IncomingTransfer, bool) {
	if tx.IO.In == nil {
		return models.IncomingTransfer{}, false
	}
	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil || inMsg.Bounced {
		return models.IncomingTransfer{}, false
	}
	if inMsg.Amount.Nano().Sign() <= 0 {
		return models.IncomingTransfer{}, false
	}
	return models.IncomingTransfer{
		TxRef:       fmt.Sprintf("%d:%s", tx.LT, hex.EncodeToString(tx.Hash)),
		FromAddress: inMsg.SrcAddr.String(),
		Amount:      models.FromNano(inMsg.Amount.Nano()),
		Comment:     extractComment(inMsg),
		At:          at,
	}, true
}

// extractComment parses a text comment from an InternalMessage body.
// TON text comments have opcode 0x00000000 followed by UTF-8 text.
func extractComment(inMsg *tlb.InternalMessage) string {
	if inMsg.Body == nil {
		return ""
	}
	slice := inMsg.Body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}
	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}
	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}
	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func outgoingTransfers(tx *tlb.Transaction, at time.Time) []models.OutgoingTransfer {
	if tx.IO.Out == nil {
		return nil
	}
	msgs, err := tx.IO.Out.ToSlice()
	if err != nil {
		return nil
	}
	var out []models.OutgoingTransfer
	for i := range msgs {
		m, ok := msgs[i].Msg.(*tlb.InternalMessage)
		if !ok || m == nil {
			continue
		}
		out = append(out, models.OutgoingTransfer{
			TxRef:     fmt.Sprintf("%d:%s", tx.LT, hex.EncodeToString(tx.Hash)),
			ToAddress: m.DstAddr.String(),
			Amount:    models.FromNano(m.Amount.Nano()),
			Comment:   extractComment(m),
			At:        at,
		})
	}
	return out
}

// sentTo reports whether one of the messages went to addr with the given comment.
func sentTo(out []models.OutgoingTransfer, addr, memo string) bool {
	dst, err := address.ParseAddr(addr)
	if err != nil {
		return false
	}
	for _, t := range out {
		got, err := address.ParseAddr(t.ToAddress)
		if err != nil {
			continue
		}
		if got.Equals(dst) && t.Comment == memo {
			return true
		}
	}
	return false
}
