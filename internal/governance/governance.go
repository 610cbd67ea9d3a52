// Package governance runs weighted votes that arbitrate booking disputes and
// community decisions.
//
// Flow:
//  1. A proposal opens with a voting deadline; eligible voting power and the
//     quorum it implies are frozen at creation
//  2. Voters cast one weighted yes/no vote each until the deadline
//  3. After the deadline the proposal is finalized: it passes when the cast
//     power meets quorum and yes outweighs no
//  4. A proposal linked to a booking resolves that booking's escrow dispute
//     (passed → release, failed → refund); failed applications are retried
package governance

import (
	"errors"
	"time"
)

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrInvalidRequest   = errors.New("invalid proposal request")
	ErrInvalidPower     = errors.New("voting power must be positive and within eligible power")
	ErrVotingClosed     = errors.New("voting period has ended")
	ErrVotingOpen       = errors.New("voting period has not ended")
	ErrAlreadyVoted     = errors.New("voter has already voted on this proposal")
	ErrAlreadyFinalized = errors.New("proposal already finalized")
)

// Status represents the state of a proposal.
type Status string

const (
	StatusActive Status = "active"
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// Proposal is one governance decision.
type Proposal struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Proposer         string     `json:"proposer"`
	BookingID        string     `json:"bookingId,omitempty"` // set for dispute arbitration
	Actions          []string   `json:"actions,omitempty"`
	Status           Status     `json:"status"`
	YesVotes         int64      `json:"yesVotes"`
	NoVotes          int64      `json:"noVotes"`
	VoterCount       int        `json:"voterCount"`
	EligiblePower    int64      `json:"eligiblePower"`
	QuorumPercentage int        `json:"quorumPercentage"`
	RequiredVotes    int64      `json:"requiredVotes"`
	Deadline         time.Time  `json:"deadline"`
	Applied          bool       `json:"applied"`
	ApplyError       string     `json:"applyError,omitempty"`
	FinalizedAt      *time.Time `json:"finalizedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsFinal returns true once the proposal has been finalized.
func (p *Proposal) IsFinal() bool {
	return p.Status == StatusPassed || p.Status == StatusFailed
}

// Cast returns the total voting power cast.
func (p *Proposal) Cast() int64 {
	return p.YesVotes + p.NoVotes
}

// QuorumMet reports whether enough power has been cast.
func (p *Proposal) QuorumMet() bool {
	return p.Cast() >= p.RequiredVotes
}

// NeedsApply reports whether a finalized proposal still has a booking
// outcome to deliver.
func (p *Proposal) NeedsApply() bool {
	return p.IsFinal() && p.BookingID != "" && !p.Applied
}

func (p *Proposal) clone() *Proposal {
	cp := *p
	if p.Actions != nil {
		cp.Actions = append([]string(nil), p.Actions...)
	}
	if p.FinalizedAt != nil {
		t := *p.FinalizedAt
		cp.FinalizedAt = &t
	}
	return &cp
}

// Vote is a single weighted ballot.
type Vote struct {
	ProposalID string    `json:"proposalId"`
	Voter      string    `json:"voter"`
	Support    bool      `json:"support"`
	Power      int64     `json:"power"`
	CastAt     time.Time `json:"castAt"`
}

// OpenRequest contains the parameters for opening a proposal.
type OpenRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Proposer    string   `json:"proposer" binding:"required"`
	BookingID   string   `json:"bookingId"`
	Actions     []string `json:"actions"`
}

// VoteRequest contains the parameters for casting a vote.
type VoteRequest struct {
	Voter   string `json:"voter" binding:"required"`
	Support bool   `json:"support"`
	Power   int64  `json:"power" binding:"required"`
}

// RequiredVotes returns ceil(eligible * quorum / 100).
func RequiredVotes(eligible int64, quorumPct int) int64 {
	if eligible <= 0 || quorumPct <= 0 {
		return 0
	}
	return (eligible*int64(quorumPct) + 99) / 100
}
