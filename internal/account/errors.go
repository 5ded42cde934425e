package account

import "github.com/abduss/appdrive/internal/apperr"

var (
	// ErrAccountNotFound signals that no ledger entry exists for the identity.
	ErrAccountNotFound = apperr.New(apperr.KindNotFound, "account_not_found", "account not found")
	// ErrQuotaExceeded is returned when a reservation would exceed the storage cap.
	ErrQuotaExceeded = apperr.New(apperr.KindQuotaExceeded, "quota_exceeded", "storage quota exceeded")
	// ErrPlanTooSmall is returned when a plan's cap is below current usage.
	ErrPlanTooSmall = apperr.New(apperr.KindQuotaExceeded, "plan_too_small", "plan storage cap is below current usage")
	// ErrAccountNotActive is returned when the account status forbids the operation.
	ErrAccountNotActive = apperr.New(apperr.KindPermissionDenied, "account_not_active", "account is not active")
	// ErrInvalidAmount rejects negative or zero byte amounts.
	ErrInvalidAmount = apperr.New(apperr.KindInvalidArgument, "invalid_amount", "byte amount must be positive")
	// ErrInvalidStatus rejects unknown account statuses.
	ErrInvalidStatus = apperr.New(apperr.KindInvalidArgument, "invalid_status", "unknown account status")
	// ErrReservationMissing means a commit found fewer pending bytes than it settles.
	ErrReservationMissing = apperr.New(apperr.KindInvalidState, "reservation_missing", "no matching pending reservation")
)
