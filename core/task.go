// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"maps"
	"slices"
	"time"
)

// TaskStatus is the lifecycle state of an analysis task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCancelled TaskStatus = "cancelled"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCancelled || s == TaskCompleted || s == TaskError
}

// CanTransition reports whether moving from s to next is allowed.
// Transitions only move forward; cancelled is reachable from any non-terminal state.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case TaskCancelled, TaskCompleted, TaskError:
		return true
	case TaskRunning:
		return s == TaskPending
	default:
		return false
	}
}

// SubTaskStatus is the per-document progress of an analysis task.
type SubTaskStatus string

const (
	SubPending  SubTaskStatus = "pending"
	SubFetched  SubTaskStatus = "fetched"
	SubAnalyzed SubTaskStatus = "analyzed"
	SubFailed   SubTaskStatus = "failed"
)

// Settled reports whether the document job has finished.
func (s SubTaskStatus) Settled() bool {
	return s == SubAnalyzed || s == SubFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s SubTaskStatus) CanTransition(next SubTaskStatus) bool {
	switch s {
	case SubPending:
		return next == SubFetched || next == SubFailed
	case SubFetched:
		return next == SubAnalyzed || next == SubFailed
	default:
		return false
	}
}

// Timings records per-document stage durations in milliseconds.
type Timings struct {
	FetchMS   int64 `json:"fetch_ms"`
	AnalyzeMS int64 `json:"analyze_ms"`
	TotalMS   int64 `json:"total_ms"`
}

// SubTask tracks a single document inside an analysis task.
type SubTask struct {
	Status  SubTaskStatus `json:"status"`
	DocType string        `json:"doc_type,omitempty"`
	Error   string        `json:"error,omitempty"`
	Timings Timings       `json:"timings"`
}

// AnalysisRequest is the payload accepted by Submit and carried to workers.
type AnalysisRequest struct {
	TaskID   string   `json:"task_id"`
	DocIDs   []string `json:"doc_ids"`
	NeedText string   `json:"need_text"`
	MaxPages int      `json:"max_pages,omitempty"`
}

// DocumentAnalysis is the structured analysis of one document.
type DocumentAnalysis struct {
	DocID         string   `json:"doc_id"`
	Title         string   `json:"title"`
	DocType       string   `json:"doc_type"`
	Summary       string   `json:"summary"`
	KeyTechniques []string `json:"key_techniques"`
	Applicability string   `json:"applicability"`
	Limitations   []string `json:"limitations"`
}

// PlanPhase is one stage of an implementation plan.
type PlanPhase struct {
	Name     string   `json:"name"`
	Goal     string   `json:"goal"`
	Tasks    []string `json:"tasks"`
	Duration string   `json:"duration"`
}

// ImplementationPlan is the synthesized output of a deep analysis.
type ImplementationPlan struct {
	Summary string      `json:"summary"`
	Phases  []PlanPhase `json:"phases"`
	Risks   []string    `json:"risks"`
	Sources []string    `json:"sources"`
}

// AnalysisResult is attached to a completed task.
type AnalysisResult struct {
	Plan       ImplementationPlan `json:"plan"`
	Analyses   []DocumentAnalysis `json:"analyses"`
	FailedDocs []string           `json:"failed_docs,omitempty"`
}

// AnalysisTask is the externally visible state of a deep-analysis task.
type AnalysisTask struct {
	TaskID        string             `json:"task_id"`
	Status        TaskStatus         `json:"status"`
	CurrentStep   string             `json:"current_step"`
	TotalDocs     int                `json:"total_docs"`
	CompletedDocs int                `json:"completed_docs"`
	DocOrder      []string           `json:"doc_order"`
	PerDoc        map[string]SubTask `json:"per_doc"`
	Result        *AnalysisResult    `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	FinishedAt    time.Time          `json:"finished_at,omitzero"`
}

// NewAnalysisTask creates a pending task with every document pending.
func NewAnalysisTask(req AnalysisRequest) *AnalysisTask {
	now := time.Now().UTC()
	perDoc := make(map[string]SubTask, len(req.DocIDs))
	for _, id := range req.DocIDs {
		perDoc[id] = SubTask{Status: SubPending}
	}
	return &AnalysisTask{
		TaskID:      req.TaskID,
		Status:      TaskPending,
		CurrentStep: "queued",
		TotalDocs:   len(req.DocIDs),
		DocOrder:    slices.Clone(req.DocIDs),
		PerDoc:      perDoc,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy safe to hand to readers.
func (t *AnalysisTask) Clone() *AnalysisTask {
	if t == nil {
		return nil
	}
	c := *t
	c.DocOrder = slices.Clone(t.DocOrder)
	c.PerDoc = maps.Clone(t.PerDoc)
	if t.Result != nil {
		r := *t.Result
		r.Analyses = slices.Clone(t.Result.Analyses)
		r.FailedDocs = slices.Clone(t.Result.FailedDocs)
		r.Plan.Phases = slices.Clone(t.Result.Plan.Phases)
		r.Plan.Risks = slices.Clone(t.Result.Plan.Risks)
		r.Plan.Sources = slices.Clone(t.Result.Plan.Sources)
		c.Result = &r
	}
	return &c
}
