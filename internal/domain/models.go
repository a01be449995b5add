package domain

import "time"

// Task is a unit of labeling work issued by the upstream provider. The core
// never interprets the content; it only keys on ID and TrackID.
type Task struct {
	ID         string   `json:"id"`
	TrackID    string   `json:"track_id"`
	Question   string   `json:"question"`
	Choices    []string `json:"choices,omitempty"`
	MediaURL   string   `json:"media_url,omitempty"`
	Language   string   `json:"language,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Complexity int      `json:"complexity,omitempty"`
}

// Criteria narrows which tasks the upstream provider should hand out.
// Language is required; Topic and Complexity are optional (zero means unset).
type Criteria struct {
	Language   string
	Topic      string
	Complexity int
}

// SubmissionRecord is the immutable history entry for one accepted answer.
// Once appended it is never mutated or removed.
type SubmissionRecord struct {
	UserID      string    `json:"user_id"`
	TaskID      string    `json:"task_id"`
	TrackID     string    `json:"track_id"`
	Solution    string    `json:"solution"`
	Confidence  float64   `json:"confidence"`
	Question    string    `json:"question,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionReceipt is what the upstream provider returns for an accepted answer.
type SubmissionReceipt struct {
	Confidence float64 `json:"confidence"`
}

// LeaderboardEntry is one row of the scoreboard.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Leaderboard captures all known users ordered by descending score.
// Ties keep first-seen order.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Profile is the slice of the user-profile subsystem the selector consumes:
// preferred expertise domains and a complexity level. Either may be empty.
type Profile struct {
	UserID          string   `json:"user_id"`
	Languages       []string `json:"languages,omitempty"`
	Expertise       []string `json:"expertise,omitempty"`
	ComplexityLevel int      `json:"complexity_level,omitempty"`
}
