// Package journal is the append-only event log and its mirrored
// double-entry ledger, spec.md §4.H. Persistence is grounded on the
// teacher's pkg/app/core/account/store.go (Pebble, JSON payloads,
// Sync/NoSync/Batch usage); the binary record framing and ledger have no
// teacher precedent and are newly written in the teacher's idiom.
//
// Publishers (pkg/account via its Sink, and pkg/exchange's matching
// callbacks) hand events to Store.Append as
// kind string + map[string]interface{} payload rather than the typed
// structs you might expect here: Ledger.Post type-asserts amount fields
// as int64 straight off the Go value, and a typed-struct/JSON-marshal
// round trip would turn those into float64 before Post ever saw them.
package journal

// Kind tags an event record, spec.md §4.H's record list.
type Kind uint8

const (
	KindOrderSubmitted Kind = iota
	KindOrderUpdated
	KindTrade
	KindCancel
	KindDeposit
	KindWithdraw
	KindFundingPayment
	KindLiquidation
	KindInsuranceContribution
	KindInsuranceDraw
	KindSocializedLoss
	KindExposureChanged
)

func (k Kind) String() string {
	switch k {
	case KindOrderSubmitted:
		return "OrderSubmitted"
	case KindOrderUpdated:
		return "OrderUpdated"
	case KindTrade:
		return "Trade"
	case KindCancel:
		return "Cancel"
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindFundingPayment:
		return "FundingPayment"
	case KindLiquidation:
		return "Liquidation"
	case KindInsuranceContribution:
		return "InsuranceContribution"
	case KindInsuranceDraw:
		return "InsuranceDraw"
	case KindSocializedLoss:
		return "SocializedLoss"
	case KindExposureChanged:
		return "ExposureChanged"
	default:
		return "Unknown"
	}
}

// KindFromString maps a publisher-facing event name (as used by
// pkg/account and pkg/exchange, which don't use this package's
// numeric Kind) back to its Kind. Unknown names map to a kind that the
// ledger posts nothing for.
func KindFromString(name string) Kind {
	switch name {
	case "OrderSubmitted":
		return KindOrderSubmitted
	case "OrderUpdated":
		return KindOrderUpdated
	case "Trade":
		return KindTrade
	case "Cancel":
		return KindCancel
	case "Deposit":
		return KindDeposit
	case "Withdraw":
		return KindWithdraw
	case "FundingPayment":
		return KindFundingPayment
	case "Liquidation":
		return KindLiquidation
	case "InsuranceContribution":
		return KindInsuranceContribution
	case "InsuranceDraw":
		return KindInsuranceDraw
	case "SocializedLoss":
		return KindSocializedLoss
	case "ExposureChanged":
		return KindExposureChanged
	default:
		return KindOrderSubmitted // unposted by the ledger; harmless default
	}
}
