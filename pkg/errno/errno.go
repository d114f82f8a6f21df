package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Decode maps err to the code/message pair shown to API callers.
// Anything that is not an Errno is an infrastructure failure and collapses
// into ErrTryAgain so provider or cache internals never leak.
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	var ptr *Errno
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message
	}
	return ErrTryAgain.Code, ErrTryAgain.Message
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request parameters"}
	ErrTryAgain         = Errno{Code: 10005, Message: "Service temporarily unavailable, please try again"}
)

// Wallet lookups (20000+)
var (
	ErrWalletNotFound = Errno{Code: 20301, Message: "Wallet not found"}
	ErrInvalidAddress = Errno{Code: 20302, Message: "Invalid destination address"}
)

// Transaction validation (30000+)
var (
	ErrNetworkNotSupported           = Errno{Code: 30001, Message: "Network not supported"}
	ErrCongestionTooHigh             = Errno{Code: 30002, Message: "Network congestion too high"}
	ErrGasPriceExceedsLimit          = Errno{Code: 30003, Message: "Gas price exceeds limit"}
	ErrValueExceedsLimit             = Errno{Code: 30004, Message: "Transaction value exceeds limit"}
	ErrCooldownActive                = Errno{Code: 30005, Message: "Cooldown period not elapsed"}
	ErrPendingLimitReached           = Errno{Code: 30006, Message: "Too many pending transactions"}
	ErrInsufficientGuardianApprovals = Errno{Code: 30007, Message: "Insufficient guardian approvals"}
	ErrBlacklistedRecipient          = Errno{Code: 30008, Message: "Recipient address is blacklisted"}
	ErrSuspiciousPattern             = Errno{Code: 30009, Message: "Suspicious transaction pattern detected"}
)

// Wallet recovery (40000+)
var (
	ErrRecoveryAlreadyActive   = Errno{Code: 40001, Message: "A recovery request is already active for this wallet"}
	ErrRecoveryNotFound        = Errno{Code: 40002, Message: "Recovery request not found"}
	ErrRecoveryExpired         = Errno{Code: 40003, Message: "Recovery request has expired"}
	ErrRecoveryUnauthorized    = Errno{Code: 40004, Message: "Not authorized for this recovery request"}
	ErrRecoveryInvalidState    = Errno{Code: 40005, Message: "Recovery request is not in a valid state for this action"}
	ErrRecoveryExecutionFailed = Errno{Code: 40006, Message: "Recovery execution failed"}
)
