package models

import "time"

// DueJobResult is the outcome of one dispatch attempt. It is never persisted.
type DueJobResult struct {
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// Succeeded returns a successful result started at executedAt.
func Succeeded(executedAt time.Time) DueJobResult {
	return DueJobResult{Success: true, ExecutedAt: executedAt}
}

// Failed returns a failed result carrying err's message.
func Failed(executedAt time.Time, err error) DueJobResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return DueJobResult{Success: false, ErrorMessage: msg, ExecutedAt: executedAt}
}

// Commit is the state change the dispatcher writes back after an attempt.
// ClaimedVersion is the schedule version seen at claim time.
type Commit struct {
	Result         DueJobResult
	NextRun        time.Time
	EvaluatedAt    time.Time
	FailureCount   int
	ClaimedVersion int
	UpdatedAt      time.Time
}

// Apply writes c into s and releases the claim. LastRun never moves backwards
// and EvaluatedAt only moves forward. When the definition was edited while the
// claim was held, the edit's NextRun and FailureCount are kept.
func (s *Schedule) Apply(c Commit) {
	if c.Result.Success {
		if s.LastRun == nil || c.Result.ExecutedAt.After(*s.LastRun) {
			at := c.Result.ExecutedAt
			s.LastRun = &at
		}
		s.LastError = ""
	} else {
		s.LastError = c.Result.ErrorMessage
	}

	if c.ClaimedVersion == s.Version {
		if !c.NextRun.IsZero() {
			s.NextRun = c.NextRun
		}
		if c.EvaluatedAt.After(s.EvaluatedAt) {
			s.EvaluatedAt = c.EvaluatedAt
		}
		s.FailureCount = c.FailureCount
	}
	s.ProcessingToken = ""
	s.ClaimedAt = nil
	if !c.UpdatedAt.IsZero() {
		s.UpdatedAt = c.UpdatedAt
	}
}

// ClaimOutcome describes the result of a claim attempt.
type ClaimOutcome int

const (
	// ClaimNotDue means the schedule is not active or not yet due.
	ClaimNotDue ClaimOutcome = iota
	// ClaimContended means a live claim is held by someone else.
	ClaimContended
	// ClaimAcquired means the schedule was idle and is now held by the caller.
	ClaimAcquired
	// ClaimReclaimed means a stale claim was taken over by the caller.
	ClaimReclaimed
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimNotDue:
		return "not_due"
	case ClaimContended:
		return "contended"
	case ClaimAcquired:
		return "acquired"
	case ClaimReclaimed:
		return "reclaimed"
	}
	return "unknown"
}

// Held reports whether the caller now holds the claim.
func (o ClaimOutcome) Held() bool {
	return o == ClaimAcquired || o == ClaimReclaimed
}

// CheckClaim decides what a claim attempt at now would yield.
func (s *Schedule) CheckClaim(now time.Time, lease time.Duration) ClaimOutcome {
	if !s.IsDue(now) {
		return ClaimNotDue
	}
	if !s.IsClaimed() {
		return ClaimAcquired
	}
	if s.ClaimStale(now, lease) {
		return ClaimReclaimed
	}
	return ClaimContended
}

// Claim marks s as held by token at now.
func (s *Schedule) Claim(token string, now time.Time) {
	at := now
	s.ProcessingToken = token
	s.ClaimedAt = &at
}
