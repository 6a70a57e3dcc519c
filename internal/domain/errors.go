package domain

import "errors"

// Settlement error taxonomy. Wallet and rail errors are surfaced to clients verbatim;
// ledger errors on withdrawal resolution are hard failures.
var (
	ErrProviderUnavailable   = errors.New("wallet provider unavailable")
	ErrUserRejected          = errors.New("request rejected in wallet")
	ErrNoAccounts            = errors.New("wallet exposed no accounts")
	ErrSessionNotConnected   = errors.New("wallet session is not connected")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUnsupportedAsset      = errors.New("unsupported asset")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrNetwork               = errors.New("network error")
	ErrInvalidDestination    = errors.New("invalid destination address")
	ErrExceedsAvailableFunds = errors.New("amount exceeds available funds")
	ErrAlreadyResolved       = errors.New("withdrawal request already resolved")
	ErrDuplicateSettlement   = errors.New("settlement proof already recorded")

	ErrSettlementProofRequired = errors.New("settlement proof required")
	ErrReviewerNotesRequired   = errors.New("reviewer notes required")
	ErrInvalidDecision         = errors.New("decision must be approve or reject")
	ErrUnverifiedSettlement    = errors.New("settlement proof does not match the declared transfer")
	ErrPaymentNotCompleted     = errors.New("payment not completed")
	ErrInvalidCampaign         = errors.New("invalid campaign")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrNotCampaignOwner        = errors.New("only the campaign owner may do this")
	ErrRateLimited             = errors.New("too many requests")
	ErrTreasuryDisabled        = errors.New("treasury wallet is not enabled")

	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrDonationNotFound   = errors.New("donation not found")
	ErrWithdrawalNotFound = errors.New("withdrawal request not found")
	ErrProfileNotFound    = errors.New("profile not found")
)

// ErrorKind is the stable tag clients use to pick a message.
type ErrorKind string

const (
	KindProviderUnavailable   ErrorKind = "ProviderUnavailable"
	KindUserRejected          ErrorKind = "UserRejected"
	KindNoAccounts            ErrorKind = "NoAccounts"
	KindSessionNotConnected   ErrorKind = "SessionNotConnected"
	KindInvalidAmount         ErrorKind = "InvalidAmount"
	KindUnsupportedAsset      ErrorKind = "UnsupportedAsset"
	KindInsufficientFunds     ErrorKind = "InsufficientFunds"
	KindNetworkError          ErrorKind = "NetworkError"
	KindInvalidDestination    ErrorKind = "InvalidDestination"
	KindExceedsAvailableFunds ErrorKind = "ExceedsAvailableFunds"
	KindAlreadyResolved       ErrorKind = "AlreadyResolved"
	KindDuplicateSettlement   ErrorKind = "DuplicateSettlement"
	KindValidation            ErrorKind = "ValidationError"
	KindUnverifiedSettlement  ErrorKind = "UnverifiedSettlement"
	KindPaymentNotCompleted   ErrorKind = "PaymentNotCompleted"
	KindNotFound              ErrorKind = "NotFound"
	KindForbidden             ErrorKind = "Forbidden"
	KindRateLimited           ErrorKind = "RateLimited"
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindInternal              ErrorKind = "Internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrProviderUnavailable, KindProviderUnavailable},
	{ErrUserRejected, KindUserRejected},
	{ErrNoAccounts, KindNoAccounts},
	{ErrSessionNotConnected, KindSessionNotConnected},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrUnsupportedAsset, KindUnsupportedAsset},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrNetwork, KindNetworkError},
	{ErrInvalidDestination, KindInvalidDestination},
	{ErrExceedsAvailableFunds, KindExceedsAvailableFunds},
	{ErrAlreadyResolved, KindAlreadyResolved},
	{ErrDuplicateSettlement, KindDuplicateSettlement},
	{ErrSettlementProofRequired, KindValidation},
	{ErrReviewerNotesRequired, KindValidation},
	{ErrInvalidDecision, KindValidation},
	{ErrInvalidCampaign, KindValidation},
	{ErrInvalidRequest, KindValidation},
	{ErrUnverifiedSettlement, KindUnverifiedSettlement},
	{ErrPaymentNotCompleted, KindPaymentNotCompleted},
	{ErrNotCampaignOwner, KindForbidden},
	{ErrRateLimited, KindRateLimited},
	{ErrTreasuryDisabled, KindProviderUnavailable},
	{ErrCampaignNotFound, KindNotFound},
	{ErrDonationNotFound, KindNotFound},
	{ErrWithdrawalNotFound, KindNotFound},
	{ErrProfileNotFound, KindNotFound},
}

// KindOf maps an error chain to its taxonomy tag. Unknown errors are Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the caller may resubmit without user intervention.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
