package api

import (
	"errors"
	"net/http"

	"chitfund/chit"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; the first sentinel matched wins.
var errorMappings = []errorMapping{
	{chit.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{chit.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{chit.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{chit.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
	{chit.ErrAlreadyEnrolled, http.StatusConflict, "ALREADY_ENROLLED"},
	{chit.ErrGroupNotAcceptingMembers, http.StatusConflict, "GROUP_NOT_ACCEPTING_MEMBERS"},
	{chit.ErrMemberHasContributions, http.StatusConflict, "MEMBER_HAS_CONTRIBUTIONS"},
	{chit.ErrDuplicateContribution, http.StatusConflict, "DUPLICATE_CONTRIBUTION"},
	{chit.ErrCycleMismatch, http.StatusUnprocessableEntity, "CYCLE_MISMATCH"},
	{chit.ErrInvalidAmount, http.StatusUnprocessableEntity, "INVALID_AMOUNT"},
	{chit.ErrDuplicateAuction, http.StatusConflict, "DUPLICATE_AUCTION"},
	{chit.ErrCycleNotActive, http.StatusConflict, "CYCLE_NOT_ACTIVE"},
	{chit.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{chit.ErrNotEligible, http.StatusForbidden, "NOT_ELIGIBLE"},
	{chit.ErrBidOutOfRange, http.StatusUnprocessableEntity, "BID_OUT_OF_RANGE"},
	{chit.ErrAuctionNotOpen, http.StatusConflict, "AUCTION_NOT_OPEN"},
	{chit.ErrCycleNotFullyFunded, http.StatusConflict, "CYCLE_NOT_FULLY_FUNDED"},
	{chit.ErrNoBids, http.StatusConflict, "NO_BIDS"},
	{chit.ErrAlreadyFinalized, http.StatusOK, "ALREADY_FINALIZED"},
	{chit.ErrInsufficientPool, http.StatusConflict, "INSUFFICIENT_POOL"},
	{chit.ErrInsufficientMembers, http.StatusConflict, "INSUFFICIENT_MEMBERS"},
}

// statusOf maps an engine error to its HTTP status and stable code. Unknown errors
// are internal.
func statusOf(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}
