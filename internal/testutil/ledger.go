// Package testutil provides in-memory collaborators for service and worker tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

// Transfer is one recorded ledger transfer.
type Transfer struct {
	From   string
	To     string
	Amount models.TransferAmount
	Sent   decimal.Decimal
	Memo   string
	At     time.Time
}

// Ledger is an in-memory ledger. Secrets are "secret:<address>" so a
// transfer can be traced back to its source account.
type Ledger struct {
	mu        sync.Mutex
	next      int
	balances  map[string]decimal.Decimal
	incoming  map[string][]models.IncomingTransfer
	transfers []Transfer

	BalanceErr   error
	IncomingErr  error
	BalanceCalls int

	// FailTransfersTo makes transfers to the given address fail.
	FailTransfersTo map[string]error
	// LoseReceiptsTo applies transfers to the given address but still
	// returns the error, like a send whose confirmation timed out.
	LoseReceiptsTo map[string]error
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:        make(map[string]decimal.Decimal),
		incoming:        make(map[string][]models.IncomingTransfer),
		FailTransfersTo: make(map[string]error),
		LoseReceiptsTo:  make(map[string]error),
	}
}

func (l *Ledger) CreateAccount(_ context.Context) (*models.LedgerAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	addr := fmt.Sprintf("EQescrow%04d", l.next)
	l.balances[addr] = decimal.Zero
	return &models.LedgerAccount{Address: addr, Secret: []byte("secret:" + addr)}, nil
}

// Deposit simulates an incoming transfer.
func (l *Ledger) Deposit(addr, from string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[addr] = l.balances[addr].Add(amount)
	l.incoming[addr] = append(l.incoming[addr], models.IncomingTransfer{
		TxRef:       fmt.Sprintf("in-%d", len(l.incoming[addr])+1),
		FromAddress: from,
		Amount:      amount,
		At:          time.Now(),
	})
}

// SetBalance overrides the raw balance without recording a transfer.
func (l *Ledger) SetBalance(addr string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = amount
}

func (l *Ledger) Balance(_ context.Context, addr string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.BalanceCalls++
	if l.BalanceErr != nil {
		return decimal.Zero, l.BalanceErr
	}
	return l.balances[addr], nil
}

func (l *Ledger) IncomingSince(_ context.Context, addr string, since time.Time) ([]models.IncomingTransfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.IncomingErr != nil {
		return nil, l.IncomingErr
	}
	var out []models.IncomingTransfer
	for _, in := range l.incoming[addr] {
		if !in.At.Before(since) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (l *Ledger) Transfer(_ context.Context, secret []byte, to string, amount models.TransferAmount, memo string) (*models.TransferReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.FailTransfersTo[to]; err != nil {
		return nil, err
	}
	from := string(secret[len("secret:"):])
	bal := l.balances[from]
	sent := amount.Exact
	if amount.All {
		sent = bal
	}
	if sent.GreaterThan(bal) {
		return nil, fmt.Errorf("insufficient balance: have %s, need %s", bal, sent)
	}
	l.balances[from] = bal.Sub(sent)
	l.balances[to] = l.balances[to].Add(sent)
	l.transfers = append(l.transfers, Transfer{From: from, To: to, Amount: amount, Sent: sent, Memo: memo, At: time.Now()})
	if err := l.LoseReceiptsTo[to]; err != nil {
		return nil, err
	}
	return &models.TransferReceipt{TxRef: fmt.Sprintf("tx-%d", len(l.transfers))}, nil
}

// OutgoingSince lists transfers sent from addr at or after since.
func (l *Ledger) OutgoingSince(_ context.Context, addr string, since time.Time) ([]models.OutgoingTransfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.OutgoingTransfer
	for i, t := range l.transfers {
		if t.From != addr || t.At.Before(since) {
			continue
		}
		out = append(out, models.OutgoingTransfer{
			TxRef:     fmt.Sprintf("tx-%d", i+1),
			ToAddress: t.To,
			Amount:    t.Sent,
			Comment:   t.Memo,
			At:        t.At,
		})
	}
	return out, nil
}

// Transfers returns a copy of every transfer made so far.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transfer(nil), l.transfers...)
}

// BalanceOf reads a balance without counting it as a Balance call.
func (l *Ledger) BalanceOf(addr string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[addr]
}
