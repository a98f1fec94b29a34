package chit

import "errors"

// Every error below is a rejected precondition: the operation that returns one has not
// changed any state.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrConcurrentModification = errors.New("concurrent modification")

	// registry
	ErrCapacityExceeded         = errors.New("group is at capacity")
	ErrAlreadyEnrolled          = errors.New("candidate already enrolled")
	ErrGroupNotAcceptingMembers = errors.New("group is not accepting members")
	ErrMemberHasContributions   = errors.New("member has settled contributions")

	// ledger
	ErrDuplicateContribution = errors.New("contribution already settled for cycle")
	ErrCycleMismatch         = errors.New("cycle is not the group's current cycle")
	ErrInvalidAmount         = errors.New("amount does not match installment")

	// auction
	ErrDuplicateAuction    = errors.New("auction already exists for cycle")
	ErrCycleNotActive      = errors.New("cycle is not active")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrNotEligible         = errors.New("member is not eligible")
	ErrBidOutOfRange       = errors.New("bid out of range")
	ErrAuctionNotOpen      = errors.New("auction is not open")
	ErrCycleNotFullyFunded = errors.New("cycle is not fully funded")
	ErrNoBids              = errors.New("auction closed without bids")
	ErrAlreadyFinalized    = errors.New("auction already finalized")
	ErrInsufficientPool    = errors.New("dividend pool needs at least two members")
	ErrInsufficientMembers = errors.New("not enough members to activate")
)

// IsBenign reports whether err can be ignored by a caller retrying the same request.
func IsBenign(err error) bool {
	return errors.Is(err, ErrAlreadyFinalized)
}
