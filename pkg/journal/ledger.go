package journal

import (
	"fmt"
	"sync"
)

// Well-known ledger account names, spec.md §4.H "Accounting check".
const (
	AccountBank             = "Assets:Exchange:Bank"
	AccountFees             = "Revenue:Fees"
	AccountInsurance        = "Assets:Insurance"
	AccountEquitySocialized = "Equity:SocializedLoss"
	AccountPnLClearing      = "Equity:PnLClearing"
)

func customerAccount(user string) string {
	return "Liabilities:Customer:" + user
}

// entry is one leg of a double-entry posting.
type entry struct {
	account string
	debit   int64
	credit  int64
}

// Ledger mirrors the event journal with named-account double-entry
// postings and the `verify_balance` invariant of spec.md §4.H.
type Ledger struct {
	mu      sync.Mutex
	entries []entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

func (l *Ledger) post(debitAccount string, debit int64, creditAccount string, credit int64) {
	l.entries = append(l.entries,
		entry{account: debitAccount, debit: debit},
		entry{account: creditAccount, credit: credit},
	)
}

// Post applies the double-entry postings for one event. kind is the
// publisher-facing event name (pkg/account and pkg/exchange publish by
// string; pkg/account need not import this package). Unrecognized kinds post
// nothing, which trivially preserves the balance invariant.
func (l *Ledger) Post(kind string, payload interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := payload.(map[string]interface{})
	if !ok {
		return
	}

	switch kind {
	case "Deposit":
		user, amt := stringAmount(m, "user", "amount")
		l.post(customerAccount(user), amt, AccountBank, amt)
	case "Withdraw":
		user, amt := stringAmount(m, "user", "amount")
		l.post(AccountBank, amt, customerAccount(user), amt)
	case "InsuranceContribution":
		_, amt := stringAmount(m, "symbol", "amount")
		l.post(AccountInsurance, amt, AccountFees, amt)
	case "InsuranceDraw":
		_, amt := stringAmount(m, "symbol", "amount")
		l.post(AccountFees, amt, AccountInsurance, amt)
	case "SocializedLoss":
		user, amt := stringAmount(m, "user", "amount")
		l.post(AccountEquitySocialized, amt, customerAccount(user), amt)
	case "Trade":
		takerOwner, _ := m["taker_owner"].(string)
		makerOwner, _ := m["maker_owner"].(string)
		takerFee, _ := m["taker_fee"].(int64)
		makerFee, _ := m["maker_fee"].(int64)
		takerPnL, _ := m["taker_realized_pnl"].(int64)
		makerPnL, _ := m["maker_realized_pnl"].(int64)
		l.postFee(takerOwner, takerFee)
		l.postFee(makerOwner, makerFee)
		l.postRealizedPnL(takerOwner, takerPnL)
		l.postRealizedPnL(makerOwner, makerPnL)
	default:
		// OrderSubmitted, OrderUpdated, Cancel, FundingPayment,
		// ExposureChanged carry no direct cash movement of their own
		// here: Liquidation's PnL transfer rides the Trade posting of
		// the closing order that executed it, and InsuranceDraw/
		// SocializedLoss already post their own entries.
	}
}

// postFee posts one side's fee: a positive fee debits AccountFees and
// credits (reduces) the customer; a negative fee (a maker rebate,
// money.Fee) debits (credits back) the customer and credits AccountFees.
func (l *Ledger) postFee(owner string, fee int64) {
	if fee == 0 || owner == "" {
		return
	}
	if fee > 0 {
		l.post(AccountFees, fee, customerAccount(owner), fee)
		return
	}
	rebate := -fee
	l.post(customerAccount(owner), rebate, AccountFees, rebate)
}

// postRealizedPnL posts one side's realized PnL from a fill against the
// PnL clearing account: a gain debits (credits) the customer and credits
// AccountPnLClearing; a loss debits AccountPnLClearing and credits
// (reduces) the customer.
func (l *Ledger) postRealizedPnL(owner string, pnl int64) {
	if pnl == 0 || owner == "" {
		return
	}
	if pnl > 0 {
		l.post(customerAccount(owner), pnl, AccountPnLClearing, pnl)
		return
	}
	loss := -pnl
	l.post(AccountPnLClearing, loss, customerAccount(owner), loss)
}

func stringAmount(m map[string]interface{}, keyField, amountField string) (string, int64) {
	key, _ := m[keyField].(string)
	amt, _ := m[amountField].(int64)
	return key, amt
}

// VerifyBalance checks that total debits equal total credits across every
// posted entry, spec.md §4.H "verify_balance".
func (l *Ledger) VerifyBalance() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var debits, credits int64
	for _, e := range l.entries {
		debits += e.debit
		credits += e.credit
	}
	if debits != credits {
		return fmt.Errorf("journal: ledger out of balance: debits=%d credits=%d", debits, credits)
	}
	return nil
}

// Balance returns the net balance (debits - credits) of a named account,
// for tests and diagnostics.
func (l *Ledger) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var bal int64
	for _, e := range l.entries {
		if e.account != account {
			continue
		}
		bal += e.debit - e.credit
	}
	return bal
}
