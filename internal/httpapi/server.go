// Package httpapi exposes receiving, folder settings and the offline map
// registry over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/folders"
	"github.com/cgeo/cgeofiles/internal/i18n"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/models"
	"github.com/cgeo/cgeofiles/internal/offlinemaps"
	"github.com/cgeo/cgeofiles/internal/receiver"
	"github.com/cgeo/cgeofiles/internal/storage"
)

type Receiver interface {
	Start(ctx context.Context, req receiver.Request) (*receiver.Task, error)
	Catalog() i18n.Catalog
}

type Folders interface {
	Resolver() *folders.Resolver
	SetUserDefinedFolder(ctx context.Context, id folders.ID, loc *folders.Location) error
}

type Maps interface {
	List(ctx context.Context) ([]*models.Map, error)
	Rescan(ctx context.Context) (offlinemaps.RescanResult, error)
}

type Server struct {
	// baseCtx outlives single requests; background receives run on it
	baseCtx  context.Context
	receiver Receiver
	folders  Folders
	maps     Maps
	log      logging.Logger
	tasks    *xsync.MapOf[string, *receiver.Task]

	// finished tasks stay pollable this long before they are dropped
	retention time.Duration
}

const defaultTaskRetention = 15 * time.Minute

type Option func(*Server)

// WithTaskRetention sets how long a finished receive stays visible under
// GET /receive/:id.
func WithTaskRetention(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.retention = d
		}
	}
}

func New(ctx context.Context, r Receiver, f Folders, m Maps, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		baseCtx:   ctx,
		receiver:  r,
		folders:   f,
		maps:      m,
		log:       log,
		tasks:     xsync.NewMapOf[string, *receiver.Task](),
		retention: defaultTaskRetention,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// evictWhenDone drops id from the task table once the task has been
// terminal for s.retention.
func (s *Server) evictWhenDone(id string, task *receiver.Task) {
	select {
	case <-task.Done():
	case <-s.baseCtx.Done():
		return
	}

	timer := time.NewTimer(s.retention)
	defer timer.Stop()
	select {
	case <-timer.C:
		s.tasks.Delete(id)
		s.log.Debug(s.baseCtx, "receive task evicted", "task", id)
	case <-s.baseCtx.Done():
	}
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(s.log))
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, errors.New("not found"))
	})

	engine.POST("/receive", s.handleReceive)
	engine.GET("/receive/:id", s.handleTask)
	engine.DELETE("/receive/:id", s.handleCancel)

	engine.GET("/folders", s.handleFolders)
	engine.PUT("/folders/:id", s.handleSetFolder)
	engine.DELETE("/folders/:id", s.handleResetFolder)

	engine.GET("/maps", s.handleMaps)
	engine.POST("/maps/rescan", s.handleRescan)

	return engine
}

func requestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String())
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

type taskView struct {
	ID       string         `json:"id"`
	State    receiver.State `json:"state"`
	Bytes    int64          `json:"bytes"`
	Progress string         `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
	Ref      string         `json:"ref,omitempty"`
	Digest   string         `json:"digest,omitempty"`
}

func (s *Server) view(id string, t *receiver.Task) taskView {
	state, p := t.Snapshot()
	v := taskView{ID: id, State: state, Bytes: p.Bytes, Progress: p.Text}
	if state.Terminal() {
		res := t.Wait()
		v.Message = res.Message(s.receiver.Catalog())
		v.Bytes = res.Bytes
		if res.State == receiver.StateSuccess {
			v.Ref = res.Ref.String()
			v.Digest = res.Digest
		}
	}
	return v
}

func (s *Server) handleReceive(c *gin.Context) {
	var req receiver.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if req.Source == "" {
		writeError(c, http.StatusBadRequest, errors.New("source is required"))
		return
	}

	task, err := s.receiver.Start(s.baseCtx, req)
	if errors.Is(err, common.ErrorBusy) {
		writeError(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	id := uuid.NewString()
	s.tasks.Store(id, task)
	go s.evictWhenDone(id, task)
	s.log.Info(c.Request.Context(), "receive started", "task", id, "source", req.Source)
	c.JSON(http.StatusAccepted, s.view(id, task))
}

func (s *Server) handleTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.tasks.Load(id)
	if !ok {
		writeError(c, http.StatusNotFound, common.ErrorNotFound)
		return
	}
	c.JSON(http.StatusOK, s.view(id, task))
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.tasks.Load(id)
	if !ok {
		writeError(c, http.StatusNotFound, common.ErrorNotFound)
		return
	}
	task.Cancel()
	c.JSON(http.StatusAccepted, s.view(id, task))
}

func (s *Server) handleFolders(c *gin.Context) {
	ctx := c.Request.Context()
	r := s.folders.Resolver()
	out := make([]folders.Info, 0, len(folders.All()))
	for _, id := range folders.All() {
		out = append(out, r.Info(ctx, id))
	}
	c.JSON(http.StatusOK, out)
}

type setFolderRequest struct {
	Location string `json:"location" binding:"required"`
}

func (s *Server) handleSetFolder(c *gin.Context) {
	id, err := folders.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	var body setFolderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	loc, err := folders.ParseLocation(body.Location)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	s.changeFolder(c, id, &loc)
}

func (s *Server) handleResetFolder(c *gin.Context) {
	id, err := folders.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	s.changeFolder(c, id, nil)
}

func (s *Server) changeFolder(c *gin.Context, id folders.ID, loc *folders.Location) {
	ctx := c.Request.Context()
	err := s.folders.SetUserDefinedFolder(ctx, id, loc)
	switch {
	case errors.Is(err, storage.ErrLocationNotUsable):
		writeError(c, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, s.folders.Resolver().Info(ctx, id))
}

func (s *Server) handleMaps(c *gin.Context) {
	list, err := s.maps.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]mapView, 0, len(list))
	for _, m := range list {
		out = append(out, toMapView(m))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRescan(c *gin.Context) {
	res, err := s.maps.Rescan(c.Request.Context())
	if errors.Is(err, storage.ErrNoUsableLocation) {
		writeError(c, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"location": res.Location.String(),
		"found":    res.Found,
		"removed":  res.Removed,
	})
}

type mapView struct {
	URI         string    `json:"uri"`
	Folder      string    `json:"folder"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

func toMapView(m *models.Map) mapView {
	return mapView{
		URI:         m.URI,
		Folder:      m.Folder,
		Name:        m.Name,
		DisplayName: offlinemaps.DisplayName(receiver.FileInfo(m.Name)),
		Size:        m.Size,
		Digest:      m.Digest,
		AddedAt:     m.AddedAt,
	}
}
