package transaction

import "prime-transaction-pipeline-go/internal/money"

// ConfirmationKind identifies a confirmation line. A pending transaction holds
// at most one confirmation per kind.
type ConfirmationKind int

const (
	ConfirmSource ConfirmationKind = iota + 1
	ConfirmDestination
	ConfirmFeeSelection
	ConfirmNetworkFee
	ConfirmProcessingFee
	ConfirmTotal
	ConfirmAmount
	ConfirmMemo
	ConfirmTermsOfService
	ConfirmTransferAgreement
	ConfirmEstimatedCompletion
	ConfirmLargeTransactionWarning
)

func (k ConfirmationKind) String() string {
	switch k {
	case ConfirmSource:
		return "source"
	case ConfirmDestination:
		return "destination"
	case ConfirmFeeSelection:
		return "fee_selection"
	case ConfirmNetworkFee:
		return "network_fee"
	case ConfirmProcessingFee:
		return "processing_fee"
	case ConfirmTotal:
		return "total"
	case ConfirmAmount:
		return "amount"
	case ConfirmMemo:
		return "memo"
	case ConfirmTermsOfService:
		return "terms_of_service"
	case ConfirmTransferAgreement:
		return "transfer_agreement"
	case ConfirmEstimatedCompletion:
		return "estimated_completion"
	case ConfirmLargeTransactionWarning:
		return "large_transaction_warning"
	default:
		return "unknown"
	}
}

// Confirmation is one user-facing summary line.
type Confirmation struct {
	Kind   ConfirmationKind
	Label  string
	Value  string
	Amount *money.Money
	// Acknowledgement lines (terms, agreements) must be accepted before execution.
	RequiresAck bool
	Acked       bool
}

// TextLine builds a confirmation carrying only text.
func TextLine(kind ConfirmationKind, label, value string) Confirmation {
	return Confirmation{Kind: kind, Label: label, Value: value}
}

// AmountLine builds a confirmation carrying an amount.
func AmountLine(kind ConfirmationKind, label string, amount money.Money) Confirmation {
	return Confirmation{Kind: kind, Label: label, Value: amount.Display(), Amount: &amount}
}

// AckLine builds an acknowledgement confirmation.
func AckLine(kind ConfirmationKind, label, text string) Confirmation {
	return Confirmation{Kind: kind, Label: label, Value: text, RequiresAck: true}
}
