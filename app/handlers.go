package app

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"DatasetApp/dataset"
	"DatasetApp/logger"
	"DatasetApp/render"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

//go:embed static
var staticFiles embed.FS

// upgrader keeps gorilla's same-origin check: only the viewer page served
// here, or clients sending no Origin, may open the socket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// message is pushed to viewers over the websocket and read back from them.
type message struct {
	Type     string   `json:"type"`
	Session  string   `json:"session,omitempty"`
	Dataset  string   `json:"dataset,omitempty"`
	IDs      []string `json:"ids,omitempty"`
	Clients  int      `json:"clients,omitempty"`
	Selected []string `json:"selected,omitempty"`
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Session) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if s.cfg.Metrics {
		r.Use(s.mon.Middleware())
		r.GET("/metrics", gin.WrapH(s.mon.Handler()))
	}

	r.GET("/", s.index)
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "session": s.id})
	})
	r.GET("/api/dataset", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.ds.Info()})
	})
	r.GET("/api/datasets", s.listDatasets)
	r.GET("/api/samples", s.listSamples)
	r.GET("/api/samples/:id", s.getSample)
	r.GET("/api/samples/:id/media", s.media)
	r.GET("/api/samples/:id/thumbnail", s.thumbnail)
	r.GET("/api/samples/:id/render", s.renderSample)
	r.GET("/api/stats", s.stats)
	r.GET("/api/session", s.sessionInfo)
	r.POST("/api/session/selected", s.setSelected)
	r.GET("/ws", s.serveWS)
	return r
}

func (s *Session) index(c *gin.Context) {
	page, err := fs.ReadFile(staticFiles, "static/index.html")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Session) listDatasets(c *gin.Context) {
	if s.cfg.Catalog == nil {
		c.JSON(http.StatusOK, gin.H{"data": []string{s.ds.Name()}})
		return
	}
	names, err := s.cfg.Catalog.List(c.Request.Context())
	if err != nil {
		logger.Log().Error("Cannot list datasets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": names})
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (s *Session) listSamples(c *gin.Context) {
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	page := s.ds.Query(dataset.Query{
		Tags:   c.QueryArray("tag"),
		Labels: c.QueryArray("label"),
		Offset: offset,
		Limit:  limit,
	})
	c.JSON(http.StatusOK, gin.H{"data": page})
}

func (s *Session) lookup(c *gin.Context) (*dataset.Sample, bool) {
	sample, ok := s.ds.Sample(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sample not found"})
		return nil, false
	}
	return sample, true
}

func (s *Session) getSample(c *gin.Context) {
	if sample, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, gin.H{"data": sample})
	}
}

func (s *Session) media(c *gin.Context) {
	if sample, ok := s.lookup(c); ok {
		c.File(sample.Filepath)
	}
}

func (s *Session) thumbnail(c *gin.Context) {
	sample, ok := s.lookup(c)
	if !ok {
		return
	}
	size, ok := queryInt(c, "size", defaultThumbSize)
	if !ok || size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
		return
	}
	size = min(size, maxThumbSize)
	key := thumbKey{id: sample.ID, size: size}
	if data, hit := s.thumbs.get(key); hit {
		c.Data(http.StatusOK, "image/jpeg", data)
		return
	}
	data, err := render.Thumbnail(sample.Filepath, size, size)
	if err != nil {
		logger.Log().Warn("Thumbnail failed", zap.String("sample", sample.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.thumbs.put(key, data)
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Session) renderSample(c *gin.Context) {
	sample, ok := s.lookup(c)
	if !ok {
		return
	}
	data, contentType, err := render.Annotate(sample.Filepath, sample.Detections, s.palette)
	if err != nil {
		logger.Log().Warn("Render failed", zap.String("sample", sample.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Session) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"labels": s.ds.CountLabels(),
		"tags":   s.ds.CountTags(),
		"colors": s.palette.Hexes(),
	}})
}

func (s *Session) sessionInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"id":       s.id,
		"url":      s.url,
		"clients":  s.hub.count(),
		"selected": s.Selected(),
	}})
}

type selectRequest struct {
	IDs []string `json:"ids"`
}

func (s *Session) setSelected(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Select(req.IDs); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dataset.ErrNotFound) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.Selected()})
}

func (s *Session) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	cl := s.hub.add(conn)
	defer s.hub.remove(cl)
	conn.SetPongHandler(func(string) error {
		cl.touch()
		return nil
	})

	if err := cl.writeJSON(message{
		Type:     "state",
		Session:  s.id,
		Dataset:  s.ds.Name(),
		Clients:  s.hub.count(),
		Selected: s.Selected(),
	}); err != nil {
		return
	}
	s.hub.startIdleMonitor(cl, s.cfg.PingInterval, s.cfg.IdleTimeout)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				logger.Log().Debug("Viewer read ended", zap.String("client", cl.id), zap.Error(err))
			}
			return
		}
		cl.touch()
		switch msg.Type {
		case "select":
			if err := s.Select(msg.IDs); err != nil {
				_ = cl.writeJSON(message{Type: "error", IDs: msg.IDs})
			}
		case "ping":
			_ = cl.writeJSON(message{Type: "pong"})
		}
	}
}
