package seed

import "time"

// Config holds configuration for a seed run against a server.
type Config struct {
	BaseURL    string        // Base URL of the service
	Options    Options       // Dataset shape
	Workers    int           // Number of concurrent submitters
	Timeout    time.Duration // HTTP request timeout
	Settle     time.Duration // How long to wait for the queue to drain
	OutputFile string        // Optional file receiving the generated submissions
}

// Stats holds run statistics.
type Stats struct {
	Generated     int
	Submitted     int
	Accepted      int
	Replayed      int
	Backpressured int
	Failed        int
	Analysis      *AnalysisSummary
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
}

// AnalysisSummary is the subset of GET /duplicates/analyze the runner reports.
type AnalysisSummary struct {
	TotalActivities     int `json:"total_activities"`
	ExactDuplicates     int `json:"exact_duplicates"`
	FuzzyDuplicates     int `json:"fuzzy_duplicates"`
	PotentialDuplicates int `json:"potential_duplicates"`
}

type serverStats struct {
	Pending int64 `json:"pending"`
}
