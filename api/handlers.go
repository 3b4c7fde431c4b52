package api

import (
	"bufio"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"flowrunner.dev/flowrunner/jobstore"
	"flowrunner.dev/flowrunner/runner"
	"flowrunner.dev/flowrunner/scheduler"
)

// Handlers holds every dependency the route functions need.
type Handlers struct {
	Runner     *runner.Runner
	Store      *jobstore.Store
	Scheduler  *scheduler.Scheduler
	LogPath    string
	LogFile    string
	DefaultTTL time.Duration
	Location   *time.Location
}

// SetupRoutes registers every /api/v1 route (behind token auth) plus the
// unauthenticated health check.
func SetupRoutes(e *echo.Echo, h *Handlers, token string) {
	v1 := e.Group("/api/v1", BearerAuthMiddleware(token))

	v1.GET("/schedules", h.listSchedules)
	v1.POST("/schedules", h.createSchedule)
	v1.DELETE("/schedules/:id", h.deleteSchedule)

	v1.POST("/jobs", h.createJob)
	v1.GET("/jobs", h.listJobs)
	v1.GET("/jobs/:id", h.getJob)
	v1.DELETE("/jobs", h.deleteJobsFiltered)
	v1.DELETE("/jobs/:id", h.deleteJob)

	v1.GET("/logs", h.getLogs)
}

type createScheduleRequest struct {
	Path           string         `json:"path"`
	Cron           string         `json:"cron"`
	EverySeconds   int            `json:"every_seconds"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Data           map[string]any `json:"data"`
}

func (h *Handlers) createSchedule(c echo.Context) error {
	var req createScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	id, err := h.Scheduler.AddFlow(c.Request().Context(), scheduler.ScheduleDef{
		Path:           req.Path,
		Payload:        req.Data,
		Cron:           req.Cron,
		EverySeconds:   req.EverySeconds,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return scheduleError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"schedule_id": id})
}

func scheduleError(err error) error {
	switch {
	case err == scheduler.ErrAlreadyAdded:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err == scheduler.ErrInvalidTrigger:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (h *Handlers) listSchedules(c echo.Context) error {
	list, err := h.Scheduler.ListFlows(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"schedules": list})
}

func (h *Handlers) deleteSchedule(c echo.Context) error {
	id := c.Param("id")
	if err := h.Scheduler.RemoveFlow(c.Request().Context(), id); err != nil {
		if err == scheduler.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

type createJobRequest struct {
	Path           string         `json:"path"`
	Data           map[string]any `json:"data"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

func (h *Handlers) createJob(c echo.Context) error {
	var req createJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	timeout := h.DefaultTTL
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	jobID, err := h.Runner.LaunchAsync(c.Request().Context(), req.Path, req.Data, timeout, jobstore.Meta{Source: "api"})
	if err != nil {
		return jobLaunchError(err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"job_id": jobID})
}

func jobLaunchError(err error) error {
	switch err {
	case jobstore.ErrAlreadyRunning:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) listJobs(c echo.Context) error {
	filter := jobstore.ListFilter{}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		filter.Offset = n
	}
	if v := c.QueryParam("state"); v != "" {
		filter.State = &v
	}
	if v := c.QueryParam("status"); v != "" {
		filter.Status = &v
	}

	var err error
	filter.StartFrom, err = h.parseTimeParam(c, "start_time_from")
	if err != nil {
		return err
	}
	filter.StartTo, err = h.parseTimeParam(c, "start_time_to")
	if err != nil {
		return err
	}
	filter.EndFrom, err = h.parseTimeParam(c, "end_time_from")
	if err != nil {
		return err
	}
	filter.EndTo, err = h.parseTimeParam(c, "end_time_to")
	if err != nil {
		return err
	}

	jobs, listErr := h.Store.List(c.Request().Context(), filter)
	if listErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, listErr.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"jobs": jobs, "limit": filter.Limit, "offset": filter.Offset})
}

// parseTimeParam accepts an epoch-seconds integer or a best-effort parsed
// date string; strings without timezone info are interpreted in h.Location
// and converted to UTC before being turned into epoch seconds.
func (h *Handlers) parseTimeParam(c echo.Context, name string) (*int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &n, nil
	}

	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}

	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			epoch := t.UTC().Unix()
			return &epoch, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "unparseable time value for "+name)
}

func (h *Handlers) getJob(c echo.Context) error {
	job, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if err == jobstore.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

func (h *Handlers) deleteJob(c echo.Context) error {
	if err := h.Store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if err == jobstore.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": 1})
}

func (h *Handlers) deleteJobsFiltered(c echo.Context) error {
	var olderThanDays *int
	if v := c.QueryParam("older_than_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid older_than_days")
		}
		olderThanDays = &n
	}

	var status, state *string
	if v := c.QueryParam("status"); v != "" {
		status = &v
	}
	if v := c.QueryParam("state"); v != "" {
		state = &v
	}

	deleted, err := h.Store.DeleteFiltered(c.Request().Context(), olderThanDays, status, state)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": deleted})
}

// getLogs tails the last `lines` (default 100) lines of the service's log
// file. The whole file is read; this service's log files are not expected
// to grow large enough for that to matter.
func (h *Handlers) getLogs(c echo.Context) error {
	lines := 100
	if v := c.QueryParam("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lines")
		}
		lines = n
	}

	path := filepath.Join(h.LogPath, h.LogFile)
	f, err := os.Open(path)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "log file not available")
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}

	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return c.JSON(http.StatusOK, echo.Map{"logs": all})
}
