// Package model defines the submission record and its client views.
package model

import (
	"time"

	judgemodel "ojeval/internal/judge/model"
)

// Submission is one piece of submitted code and the outcome of its latest run.
type Submission struct {
	ID            string
	UserID        string
	Username      string
	ProblemID     string
	ContestID     string
	Code          string
	Language      judgemodel.Language
	Status        judgemodel.SubmissionStatus
	Generation    int64
	TestResults   []judgemodel.TestResult
	TestCaseStats judgemodel.TestCaseStats
	StatusMessage string
	Score         int
	Plagiarism    PlagiarismCheck
	CreatedAt     time.Time
	UpdatedAt     time.Time
	JudgedAt      *time.Time
}

// InContest reports whether the submission belongs to a contest.
func (s *Submission) InContest() bool {
	return s.ContestID != ""
}

// SimilarSubmission references another submission that scored above the
// report threshold.
type SimilarSubmission struct {
	SubmissionID string  `json:"submissionId"`
	UserID       string  `json:"userId"`
	Username     string  `json:"username"`
	Similarity   float64 `json:"similarity"`
	SelfReuse    bool    `json:"selfReuse"`
	Confidence   string  `json:"confidence"`
}

// PlagiarismCheck is the integrity state of a submission.
type PlagiarismCheck struct {
	Checked            bool                `json:"checked"`
	Score              float64             `json:"score"`
	SimilarSubmissions []SimilarSubmission `json:"similarSubmissions"`
	CheckedAt          *time.Time          `json:"checkedAt"`
}

// Outcome is what a finished run writes back.
type Outcome struct {
	Status        judgemodel.SubmissionStatus
	TestResults   []judgemodel.TestResult
	TestCaseStats judgemodel.TestCaseStats
	StatusMessage string
	Score         int
	JudgedAt      time.Time
}

// View is the submission as clients see it. It never carries code.
type View struct {
	ID            string                      `json:"id"`
	UserID        string                      `json:"userId"`
	Username      string                      `json:"username,omitempty"`
	ProblemID     string                      `json:"problemId"`
	ContestID     string                      `json:"contestId,omitempty"`
	Language      judgemodel.Language         `json:"language"`
	Status        judgemodel.SubmissionStatus `json:"status"`
	Generation    int64                       `json:"generation"`
	TestResults   []judgemodel.TestResult     `json:"testResults"`
	TestCaseStats judgemodel.TestCaseStats    `json:"testCaseStats"`
	StatusMessage string                      `json:"statusMessage"`
	Score         int                         `json:"score"`
	Plagiarism    *PlagiarismCheck            `json:"plagiarismCheck,omitempty"`
	CreatedAt     time.Time                   `json:"createdAt"`
	JudgedAt      *time.Time                  `json:"judgedAt,omitempty"`
}

// ToView builds the client view. Hidden test bodies are blanked unless
// staff is set; plagiarism details are staff-only.
func (s *Submission) ToView(staff bool) View {
	results := make([]judgemodel.TestResult, len(s.TestResults))
	for i, r := range s.TestResults {
		if staff {
			results[i] = r
		} else {
			results[i] = r.Withheld()
		}
	}
	v := View{
		ID:            s.ID,
		UserID:        s.UserID,
		Username:      s.Username,
		ProblemID:     s.ProblemID,
		ContestID:     s.ContestID,
		Language:      s.Language,
		Status:        s.Status,
		Generation:    s.Generation,
		TestResults:   results,
		TestCaseStats: s.TestCaseStats,
		StatusMessage: s.StatusMessage,
		Score:         s.Score,
		CreatedAt:     s.CreatedAt,
		JudgedAt:      s.JudgedAt,
	}
	if staff {
		check := s.Plagiarism
		v.Plagiarism = &check
	}
	return v
}

// StatusSnapshot is the lightweight polling payload.
type StatusSnapshot struct {
	SubmissionID  string                      `json:"submissionId"`
	Status        judgemodel.SubmissionStatus `json:"status"`
	Generation    int64                       `json:"generation"`
	Score         int                         `json:"score"`
	StatusMessage string                      `json:"statusMessage"`
}

func (s *Submission) Snapshot() StatusSnapshot {
	return StatusSnapshot{
		SubmissionID:  s.ID,
		Status:        s.Status,
		Generation:    s.Generation,
		Score:         s.Score,
		StatusMessage: s.StatusMessage,
	}
}

// Task asks the evaluation worker to run one generation of a submission.
type Task struct {
	SubmissionID string `json:"submissionId"`
	Generation   int64  `json:"generation"`
	Rerun        bool   `json:"rerun,omitempty"`
}
