package api

import (
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/planner"
)

// SettingsRequest is the request body for configuring Craft credentials.
type SettingsRequest struct {
	BaseURL string `json:"baseUrl" example:"https://connect.craft.do/links/abc/api/v1" validate:"required"`
	APIKey  string `json:"apiKey" example:"craft_api_key" validate:"required"`
}

// SettingsResponse describes the stored credentials. The key itself is never returned.
type SettingsResponse struct {
	BaseURL    string `json:"baseUrl" example:"https://connect.craft.do/links/abc/api/v1"`
	HasAPIKey  bool   `json:"hasApiKey"`
	Configured bool   `json:"configured"`
}

func settingsOf(c models.Credentials) SettingsResponse {
	return SettingsResponse{
		BaseURL:    c.BaseURL,
		HasAPIKey:  c.APIKey != "",
		Configured: c.Configured(),
	}
}

// ConfigureResponse is returned after credentials are saved and tasks reloaded.
type ConfigureResponse struct {
	Settings SettingsResponse  `json:"settings"`
	Tasks    planner.TaskState `json:"tasks"`
}

// TaskPage is one page of the aggregated task list (aliased from the domain layer).
type TaskPage = planner.TaskPage

// TaskState is the refresh result (aliased from the domain layer).
type TaskState = planner.TaskState

// CreateBlockRequest schedules a task. Without TaskText the text is looked up
// among the loaded tasks.
type CreateBlockRequest struct {
	TaskID   string  `json:"taskId" example:"task-1" validate:"required"`
	TaskText *string `json:"taskText,omitempty" example:"Write report"`
}

// UpdateBlockRequest edits a block. Only the fields present are changed.
type UpdateBlockRequest struct {
	StartTime *string `json:"startTime,omitempty" example:"09:30"`
	EndTime   *string `json:"endTime,omitempty" example:"10:30"`
	IsDone    *bool   `json:"isDone,omitempty"`
}

// BlockListResponse wraps a list of blocks.
type BlockListResponse struct {
	Blocks []models.TimeBlock `json:"blocks" validate:"required"`
}
