package domain

// BuildResult is the terminal (or in-flight) outcome of a build.
type BuildResult string

const (
	ResultSuccess    BuildResult = "SUCCESS"
	ResultFailure    BuildResult = "FAILURE"
	ResultAborted    BuildResult = "ABORTED"
	ResultInProgress BuildResult = "IN_PROGRESS"
	ResultUnknown    BuildResult = "UNKNOWN"
)

// Terminal reports whether the result can no longer change on the provider.
func (r BuildResult) Terminal() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultAborted:
		return true
	}
	return false
}

// Build is one execution of a pipeline. Identity is (PipelineID, Number);
// saving a build with an existing identity overwrites the stored record.
type Build struct {
	PipelineID string      `json:"pipelineId"`
	Number     int64       `json:"buildNumber"`
	Result     BuildResult `json:"result"`
	Duration   int64       `json:"duration"`
	Timestamp  int64       `json:"timestamp"`
	URL        string      `json:"url"`
	Stages     []Stage     `json:"stages"`
	Commits    []Commit    `json:"commits"`
}

// Stage is one named step within a build's execution timeline. Order within
// a build is execution order as reported by the provider.
type Stage struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	StartTimeMillis     int64  `json:"startTimeMillis"`
	DurationMillis      int64  `json:"durationMillis"`
	PauseDurationMillis int64  `json:"pauseDurationMillis"`
}

// Commit is a source-control change associated with a build.
type Commit struct {
	CommitID  string `json:"commitId"`
	Timestamp int64  `json:"timestamp"`
	Date      string `json:"date"`
	Message   string `json:"msg"`
}
