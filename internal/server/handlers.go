package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hips-mosaic/internal/common"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/pipeline"
	"hips-mosaic/internal/sky"
	"hips-mosaic/pkg/response"
)

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"message": "HiPS mosaic API is running",
		"surveys": len(s.pipeline.Registry().IDs()),
		"targets": s.pipeline.Catalog().Len(),
	}
	if tc := s.pipeline.Cache(); tc != nil {
		entries, size, maxBytes := tc.Stats()
		body["cache"] = gin.H{"entries": entries, "size_bytes": size, "max_bytes": maxBytes}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listSurveys(c *gin.Context) {
	surveys := s.pipeline.Registry().All()
	response.Success(c, gin.H{"surveys": surveys, "count": len(surveys)})
}

func (s *Server) listTargets(c *gin.Context) {
	targets := s.pipeline.Catalog().All()
	if kind := strings.ToLower(c.Query("kind")); kind != "" {
		filtered := targets[:0]
		for _, t := range targets {
			if strings.ToLower(t.Kind) == kind {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}
	response.Success(c, gin.H{"targets": targets, "count": len(targets)})
}

// pixelQuery is the query of GET /pixel.
type pixelQuery struct {
	RA    string `form:"ra" binding:"required"`
	Dec   string `form:"dec" binding:"required"`
	Order *int   `form:"order"`
}

// pixelInfo handles GET /api/v1/pixel?ra=&dec=&order=
func (s *Server) pixelInfo(c *gin.Context) {
	var q pixelQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	order := s.pipeline.Settings().Order
	if q.Order != nil {
		order = *q.Order
	}

	coord, err := sky.ParseCoordinate(q.RA, q.Dec, "")
	if err != nil {
		response.BadRequest(c, "Invalid coordinate", err)
		return
	}
	idx := s.pipeline.Indexer()
	pixel, err := idx.SkyToPixel(coord, order)
	if err != nil {
		response.BadRequest(c, "Invalid order", err)
		return
	}
	center, err := idx.PixelToSky(pixel, order)
	if err != nil {
		response.InternalError(c, "Failed to locate pixel center", err)
		return
	}
	nb, err := s.pipeline.Resolver().Resolve(pixel, order)
	if err != nil {
		response.InternalError(c, "Failed to resolve neighbors", err)
		return
	}

	response.Success(c, gin.H{
		"order":      order,
		"nside":      healpix.NSide(order),
		"pixel":      pixel,
		"target":     coord,
		"center":     center,
		"separation": sky.Distance(coord, center).Degrees() * 3600,
		"neighbors":  nb.Map(),
		"count":      nb.Count(),
	})
}

// gridQuery is the query of GET /grid. Either target or ra and dec are given.
type gridQuery struct {
	Target string `form:"target"`
	RA     string `form:"ra"`
	Dec    string `form:"dec"`
	Survey string `form:"survey"`
	Order  *int   `form:"order"`
	Width  int    `form:"width"`
	Height int    `form:"height"`
}

// gridInfo handles GET /api/v1/grid and returns the planned cells without
// fetching any tile.
func (s *Server) gridInfo(c *gin.Context) {
	var q gridQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	coord, survey, g, err := s.pipeline.Plan(pipeline.Request{
		Target: q.Target, RA: q.RA, Dec: q.Dec, Survey: q.Survey,
		Order: q.Order, Width: q.Width, Height: q.Height,
	})
	if err != nil {
		response.Error(c, statusFor(err), "Failed to plan grid", err)
		return
	}
	response.Success(c, gin.H{
		"target":   coord,
		"survey":   survey.ID,
		"grid":     g,
		"coverage": g.Coverage(),
		"method":   g.Method,
		"fallback": g.UsedFallback(),
	})
}

// createMosaic handles POST /api/v1/mosaics. With ?async=true the request is
// queued and the task is returned with 202.
func (s *Server) createMosaic(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if _, err := common.ParseOutputFormat(req.Format); err != nil {
		response.BadRequest(c, "Invalid output format", err)
		return
	}
	if _, _, err := s.pipeline.Locate(req); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		response.Error(c, status, "Failed to resolve target", err)
		return
	}

	if c.Query("async") == "true" {
		if s.queue == nil {
			response.Error(c, http.StatusServiceUnavailable, "Task queue is not enabled")
			return
		}
		task := s.queue.AddTask(req, 0)
		response.Status(c, http.StatusAccepted, task)
		return
	}

	res, err := s.pipeline.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, statusFor(err), "Mosaic failed", err)
		return
	}
	response.Success(c, res)
}

func (s *Server) listRuns(c *gin.Context) {
	store := s.pipeline.Store()
	if store == nil {
		response.Error(c, http.StatusServiceUnavailable, "Run database is not enabled")
		return
	}
	var q struct {
		Target string `form:"target"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}
	runs, err := store.List(c.Request.Context(), q.Target, q.Limit)
	if err != nil {
		response.InternalError(c, "Failed to list runs", err)
		return
	}
	response.Success(c, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(c *gin.Context) {
	store := s.pipeline.Store()
	if store == nil {
		response.Error(c, http.StatusServiceUnavailable, "Run database is not enabled")
		return
	}
	run, err := store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to load run", err)
		return
	}
	response.Success(c, run)
}

func (s *Server) listTasks(c *gin.Context) {
	if s.queue == nil {
		response.Error(c, http.StatusServiceUnavailable, "Task queue is not enabled")
		return
	}
	tasks := s.queue.GetAllTasks()
	response.Success(c, gin.H{"tasks": tasks, "count": len(tasks), "status": s.queue.GetStatus()})
}

func (s *Server) getTask(c *gin.Context) {
	if s.queue == nil {
		response.Error(c, http.StatusServiceUnavailable, "Task queue is not enabled")
		return
	}
	task, err := s.queue.GetTask(c.Param("id"))
	if err != nil {
		response.Error(c, statusFor(err), "Failed to load task", err)
		return
	}
	response.Success(c, task)
}

// deleteTask cancels an unfinished task and removes a finished one.
func (s *Server) deleteTask(c *gin.Context) {
	if s.queue == nil {
		response.Error(c, http.StatusServiceUnavailable, "Task queue is not enabled")
		return
	}
	id := c.Param("id")
	task, err := s.queue.GetTask(id)
	if err != nil {
		response.Error(c, statusFor(err), "Failed to load task", err)
		return
	}
	if task.Status.Finished() {
		err = s.queue.DeleteTask(id)
	} else {
		err = s.queue.CancelTask(id)
	}
	if err != nil {
		response.Error(c, http.StatusConflict, "Failed to remove task", err)
		return
	}
	response.Success(c, gin.H{"id": id})
}
