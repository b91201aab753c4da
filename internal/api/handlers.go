package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/timeblocker/internal/blocks"
	"github.com/starford/timeblocker/internal/models"
	"github.com/starford/timeblocker/internal/planner"
)

// Handler holds API route handlers.
type Handler struct {
	svc *planner.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *planner.Service) *Handler {
	return &Handler{svc: svc}
}

func blockID(r *http.Request) models.BlockID {
	return models.BlockID(chi.URLParam(r, "id"))
}

// ListTasks handles GET /api/tasks.
//
//	@Summary		List one page of aggregated tasks
//	@Tags			tasks
//	@Produce		json
//	@Param			page	query		int	false	"1-based page, clamped to the available range"
//	@Success		200		{object}	TaskPage
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	writeJSON(w, http.StatusOK, h.svc.Tasks(page))
}

// RefreshTasks handles POST /api/tasks/refresh.
//
//	@Summary		Re-fetch tasks from Craft
//	@Description	Fetch failures are reported in the error field, not as an HTTP error.
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	TaskState
//	@Failure		412	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/refresh [post]
func (h *Handler) RefreshTasks(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Refresh(r.Context())
	if err != nil {
		writeError(w, err, "refresh tasks")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Show the configured Craft endpoint
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsResponse
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, settingsOf(h.svc.Credentials()))
}

// PutSettings handles PUT /api/settings.
//
//	@Summary		Save Craft credentials and reload tasks
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SettingsRequest	true	"Credentials"
//	@Success		200		{object}	ConfigureResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.Configure(r.Context(), req.BaseURL, req.APIKey)
	if err != nil {
		writeError(w, err, "configure")
		return
	}
	writeJSON(w, http.StatusOK, ConfigureResponse{
		Settings: settingsOf(h.svc.Credentials()),
		Tasks:    st,
	})
}

// DeleteSettings handles DELETE /api/settings.
//
//	@Summary		Forget Craft credentials
//	@Tags			settings
//	@Success		204	"Credentials cleared"
//	@Security		BearerAuth
//	@Router			/settings [delete]
func (h *Handler) DeleteSettings(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.ClearCredentials(); err != nil {
		writeError(w, err, "clear settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBlocks handles GET /api/blocks.
//
//	@Summary		List every stored time block
//	@Tags			blocks
//	@Produce		json
//	@Success		200	{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks [get]
func (h *Handler) ListBlocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: h.svc.AllBlocks()})
}

// TodayBlocks handles GET /api/blocks/today.
//
//	@Summary		List today's blocks ordered by start time
//	@Tags			blocks
//	@Produce		json
//	@Success		200	{object}	BlockListResponse
//	@Security		BearerAuth
//	@Router			/blocks/today [get]
func (h *Handler) TodayBlocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BlockListResponse{Blocks: h.svc.TodayBlocks()})
}

// GetBlock handles GET /api/blocks/{id}.
//
//	@Summary		Get a single block
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		string	true	"Block id"
//	@Success		200	{object}	models.TimeBlock
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [get]
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Block(blockID(r))
	if err != nil {
		writeError(w, err, "get block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CreateBlock handles POST /api/blocks.
//
//	@Summary		Schedule a task for today
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateBlockRequest	true	"Task to schedule"
//	@Success		201		{object}	models.TimeBlock
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [post]
func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var (
		b   models.TimeBlock
		err error
	)
	if req.TaskText != nil {
		b, err = h.svc.AddBlock(req.TaskID, *req.TaskText)
	} else {
		b, err = h.svc.ScheduleTask(req.TaskID)
	}
	if err != nil {
		writeError(w, err, "create block")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// UpdateBlock handles PATCH /api/blocks/{id}.
//
//	@Summary		Edit a block's times or completion
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Block id"
//	@Param			body	body		UpdateBlockRequest	true	"Fields to change"
//	@Success		200		{object}	models.TimeBlock
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id} [patch]
func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	var req UpdateBlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	type change struct {
		field blocks.Field
		value string
	}
	var changes []change
	if req.StartTime != nil {
		changes = append(changes, change{blocks.FieldStartTime, *req.StartTime})
	}
	if req.EndTime != nil {
		changes = append(changes, change{blocks.FieldEndTime, *req.EndTime})
	}
	if req.IsDone != nil {
		changes = append(changes, change{blocks.FieldIsDone, strconv.FormatBool(*req.IsDone)})
	}
	if len(changes) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("nothing to update"))
		return
	}
	for _, c := range changes {
		if err := blocks.ValidateField(c.field, c.value); err != nil {
			writeError(w, err, "update block")
			return
		}
	}

	id := blockID(r)
	var b models.TimeBlock
	for _, c := range changes {
		var err error
		if b, err = h.svc.UpdateBlock(id, c.field, c.value); err != nil {
			writeError(w, err, "update block")
			return
		}
	}
	writeJSON(w, http.StatusOK, b)
}

// ToggleBlock handles POST /api/blocks/{id}/toggle.
//
//	@Summary		Flip a block's completion flag
//	@Tags			blocks
//	@Produce		json
//	@Param			id	path		string	true	"Block id"
//	@Success		200	{object}	models.TimeBlock
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks/{id}/toggle [post]
func (h *Handler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.ToggleBlock(blockID(r))
	if err != nil {
		writeError(w, err, "toggle block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBlock handles DELETE /api/blocks/{id}.
//
//	@Summary		Remove a block
//	@Description	Removing an unknown id is not an error.
//	@Tags			blocks
//	@Param			id	path	string	true	"Block id"
//	@Success		204	"Block removed"
//	@Security		BearerAuth
//	@Router			/blocks/{id} [delete]
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveBlock(blockID(r)); err != nil {
		writeError(w, err, "delete block")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResetBlocks handles DELETE /api/blocks.
//
//	@Summary		Delete every block on every day
//	@Tags			blocks
//	@Param			confirm	query	bool	true	"Must be true"
//	@Success		204		"All blocks removed"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocks [delete]
func (h *Handler) ResetBlocks(w http.ResponseWriter, r *http.Request) {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("confirm=true is required to reset all blocks"))
		return
	}
	if err := h.svc.ResetBlocks(); err != nil {
		writeError(w, err, "reset blocks")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /api/preferences.
//
//	@Summary		Get UI preferences
//	@Tags			preferences
//	@Produce		json
//	@Success		200	{object}	models.Preferences
//	@Security		BearerAuth
//	@Router			/preferences [get]
func (h *Handler) GetPreferences(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Preferences())
}

// PutPreferences handles PUT /api/preferences.
//
//	@Summary		Save UI preferences
//	@Tags			preferences
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.Preferences	true	"Preferences"
//	@Success		200		{object}	models.Preferences
//	@Security		BearerAuth
//	@Router			/preferences [put]
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var p models.Preferences
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := h.svc.SetPreferences(p); err != nil {
		writeError(w, err, "save preferences")
		return
	}
	writeJSON(w, http.StatusOK, p)
}
