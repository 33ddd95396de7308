// Package contest keeps contest standings in step with judged submissions.
package contest

import (
	"sort"
	"time"

	judgemodel "ojeval/internal/judge/model"
)

// Attempt is one contest submission as the standings see it. Reruns update
// the attempt of the same submission in place.
type Attempt struct {
	SubmissionID string                      `json:"submissionId"`
	UserID       string                      `json:"userId"`
	ProblemID    string                      `json:"problemId"`
	Status       judgemodel.SubmissionStatus `json:"status"`
	Score        int                         `json:"score"`
	SubmittedAt  time.Time                   `json:"submittedAt"`
}

// ProblemResult is a participant's standing on one problem.
type ProblemResult struct {
	BestScore       int        `json:"bestScore"`
	WrongAttempts   int        `json:"wrongAttempts"`
	Penalty         int        `json:"penalty"`
	FirstAcceptedAt *time.Time `json:"firstAcceptedAt,omitempty"`
}

// Participant is one row of the leaderboard.
type Participant struct {
	ContestID          string                    `json:"contestId"`
	UserID             string                    `json:"userId"`
	Username           string                    `json:"username"`
	Problems           map[string]*ProblemResult `json:"problems"`
	AggregateScore     int                       `json:"aggregateScore"`
	LatestSubmissionAt time.Time                 `json:"latestSubmissionAt"`
	Rank               int                       `json:"rank"`
}

func (p *Participant) problem(problemID string) *ProblemResult {
	if p.Problems == nil {
		p.Problems = make(map[string]*ProblemResult)
	}
	r, ok := p.Problems[problemID]
	if !ok {
		r = &ProblemResult{}
		p.Problems[problemID] = r
	}
	return r
}

// recompute sets the aggregate to the sum of best scores minus penalties,
// floored at zero.
func (p *Participant) recompute() {
	total := 0
	for _, r := range p.Problems {
		total += r.BestScore - r.Penalty
	}
	p.AggregateScore = max(total, 0)
}

// Board is the full standing of one contest, loaded and stored as a unit.
type Board struct {
	ContestID    string
	Participants map[string]*Participant
	Attempts     map[string]Attempt

	changed []string
}

// NewBoard returns an empty board.
func NewBoard(contestID string) *Board {
	return &Board{
		ContestID:    contestID,
		Participants: make(map[string]*Participant),
		Attempts:     make(map[string]Attempt),
	}
}

// ChangedAttempts returns the submission ids recorded since the board was loaded.
func (b *Board) ChangedAttempts() []string {
	return b.changed
}

// Verdict is what the hook applies to a board.
type Verdict struct {
	Attempt  Attempt
	Username string
}

// PenaltyRule configures wrong-attempt penalties.
type PenaltyRule struct {
	Enabled         bool `yaml:"penaltyEnabled"`
	PerWrongAttempt int  `yaml:"penaltyPerWrongAttempt"`
}

// Apply records v and recomputes the standing of its participant, then
// re-ranks the whole board.
func (b *Board) Apply(v Verdict, rule PenaltyRule) *Participant {
	a := v.Attempt
	b.Attempts[a.SubmissionID] = a
	b.changed = append(b.changed, a.SubmissionID)

	p, ok := b.Participants[a.UserID]
	if !ok {
		p = &Participant{ContestID: b.ContestID, UserID: a.UserID}
		b.Participants[a.UserID] = p
	}
	if v.Username != "" {
		p.Username = v.Username
	}
	if a.SubmittedAt.After(p.LatestSubmissionAt) {
		p.LatestSubmissionAt = a.SubmittedAt
	}

	r := p.problem(a.ProblemID)
	r.BestScore = max(r.BestScore, a.Score)
	if a.Status == judgemodel.StatusAccepted && r.FirstAcceptedAt == nil {
		at := a.SubmittedAt
		r.FirstAcceptedAt = &at
		r.WrongAttempts = b.wrongAttemptsBefore(a.UserID, a.ProblemID, at)
		if rule.Enabled && rule.PerWrongAttempt > 0 {
			r.Penalty = r.WrongAttempts * rule.PerWrongAttempt
		}
	}
	p.recompute()
	b.Rank()
	return p
}

// wrongAttemptsBefore counts judged, non-accepted attempts submitted before
// at. System errors are not the participant's fault and do not count.
func (b *Board) wrongAttemptsBefore(userID, problemID string, at time.Time) int {
	n := 0
	for _, a := range b.Attempts {
		if a.UserID != userID || a.ProblemID != problemID || !a.SubmittedAt.Before(at) {
			continue
		}
		if a.Status.Verdict() && a.Status != judgemodel.StatusAccepted {
			n++
		}
	}
	return n
}

// Rank orders participants by aggregate score descending, then by latest
// submission ascending, and assigns dense 1-based ranks. Participants with
// an equal key share a rank.
func (b *Board) Rank() []*Participant {
	ordered := b.Ordered()
	rank := 0
	for i, p := range ordered {
		if i == 0 || !sameKey(ordered[i-1], p) {
			rank++
		}
		p.Rank = rank
	}
	return ordered
}

// Ordered returns participants in leaderboard order without re-ranking.
func (b *Board) Ordered() []*Participant {
	out := make([]*Participant, 0, len(b.Participants))
	for _, p := range b.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.AggregateScore != c.AggregateScore {
			return a.AggregateScore > c.AggregateScore
		}
		if !a.LatestSubmissionAt.Equal(c.LatestSubmissionAt) {
			return a.LatestSubmissionAt.Before(c.LatestSubmissionAt)
		}
		return a.UserID < c.UserID
	})
	return out
}

func sameKey(a, b *Participant) bool {
	return a.AggregateScore == b.AggregateScore && a.LatestSubmissionAt.Equal(b.LatestSubmissionAt)
}

// Clone returns a deep copy with no pending changes.
func (b *Board) Clone() *Board {
	out := NewBoard(b.ContestID)
	for id, a := range b.Attempts {
		out.Attempts[id] = a
	}
	for id, p := range b.Participants {
		cp := *p
		cp.Problems = make(map[string]*ProblemResult, len(p.Problems))
		for pid, r := range p.Problems {
			rc := *r
			cp.Problems[pid] = &rc
		}
		out.Participants[id] = &cp
	}
	return out
}
