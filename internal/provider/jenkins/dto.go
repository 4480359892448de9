package jenkins

import (
	"strings"

	"github.com/metrikhq/metrik/internal/domain"
)

// Wire shapes for the Jenkins JSON and workflow APIs.

type buildSummaryCollection struct {
	AllBuilds []buildSummary `json:"allBuilds"`
}

type buildSummary struct {
	Building   bool        `json:"building"`
	Number     int64       `json:"number"`
	Result     string      `json:"result"`
	Timestamp  int64       `json:"timestamp"`
	Duration   int64       `json:"duration"`
	URL        string      `json:"url"`
	ChangeSets []changeSet `json:"changeSets"`
}

type changeSet struct {
	Items []commitItem `json:"items"`
}

type commitItem struct {
	CommitID  string `json:"commitId"`
	Timestamp int64  `json:"timestamp"`
	Msg       string `json:"msg"`
	Date      string `json:"date"`
}

type buildDetail struct {
	Stages []stageItem `json:"stages"`
}

type stageItem struct {
	Name                string `json:"name"`
	Status              string `json:"status"`
	StartTimeMillis     int64  `json:"startTimeMillis"`
	DurationMillis      int64  `json:"durationMillis"`
	PauseDurationMillis int64  `json:"pauseDurationMillis"`
}

func (s buildSummary) buildResult() domain.BuildResult {
	if s.Building {
		return domain.ResultInProgress
	}
	switch strings.ToUpper(s.Result) {
	case "SUCCESS":
		return domain.ResultSuccess
	case "FAILURE":
		return domain.ResultFailure
	case "ABORTED":
		return domain.ResultAborted
	case "":
		return domain.ResultInProgress
	default:
		return domain.ResultUnknown
	}
}

// commits flattens every change-set into one collection. Duplicate commits
// across change-sets are the provider's responsibility.
func (s buildSummary) commits() []domain.Commit {
	commits := make([]domain.Commit, 0)
	for _, cs := range s.ChangeSets {
		for _, item := range cs.Items {
			commits = append(commits, domain.Commit{
				CommitID:  item.CommitID,
				Timestamp: item.Timestamp,
				Date:      item.Date,
				Message:   item.Msg,
			})
		}
	}
	return commits
}

// stages preserves the execution order reported by the workflow API.
func (d buildDetail) stages() []domain.Stage {
	stages := make([]domain.Stage, 0, len(d.Stages))
	for _, item := range d.Stages {
		stages = append(stages, domain.Stage{
			Name:                item.Name,
			Status:              item.Status,
			StartTimeMillis:     item.StartTimeMillis,
			DurationMillis:      item.DurationMillis,
			PauseDurationMillis: item.PauseDurationMillis,
		})
	}
	return stages
}
