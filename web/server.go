// Package web serves the configuration page and relays camera frames to
// browsers over a websocket.
package web

import (
	"NoteDetClient/config"
	iface "NoteDetClient/interface"
	"NoteDetClient/monitor"
	"NoteDetClient/relay"
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FrameEvent is the event name browsers listen for.
const FrameEvent = "video_frame"

const writeWait = 2 * time.Second

//go:embed templates/*.html
var templates embed.FS

// SettingsStore is the part of config.Store the web surface needs.
type SettingsStore interface {
	Load() (config.Settings, error)
	Save(config.Settings) error
}

type CameraLister interface {
	Devices() []iface.CameraDevice
}

type Options struct {
	Port    int
	Store   SettingsStore
	Cameras CameraLister
	// Frames carries JPEG bytes from the detection loop. May be nil.
	Frames  *relay.Slot[[]byte]
	Metrics *monitor.Metrics
	Logger  *zap.Logger
}

type frameMessage struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

type Server struct {
	opts     Options
	log      *zap.Logger
	engine   *gin.Engine
	srv      *http.Server
	viewers  *relay.Broadcaster[[]byte]
	upgrader websocket.Upgrader
}

func New(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		opts:    opts,
		log:     log,
		viewers: relay.NewBroadcaster[[]byte](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.SetHTMLTemplate(tmpl)
	r.GET("/", s.home)
	r.POST("/update_config", s.updateConfig)
	r.GET("/ws", s.stream)
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/config", s.getConfig)
	r.GET("/api/cameras", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.cameras()})
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	s.engine = r
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: r,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

// Viewers is the number of connected websocket clients.
func (s *Server) Viewers() int { return s.viewers.Subscribers() }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info("web server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.viewers.Close()
	return s.srv.Shutdown(ctx)
}

// Pump moves frames from the loop's slot to every viewer until ctx ends or
// the slot is closed. Each frame is encoded once.
func (s *Server) Pump(ctx context.Context) {
	if s.opts.Frames == nil {
		return
	}
	for {
		jpg, ok := s.opts.Frames.Next(ctx)
		if !ok {
			return
		}
		if s.viewers.Subscribers() == 0 {
			continue
		}
		msg, err := json.Marshal(frameMessage{Event: FrameEvent, Data: base64.StdEncoding.EncodeToString(jpg)})
		if err != nil {
			s.log.Warn("encode frame message", zap.Error(err))
			continue
		}
		s.viewers.Publish(msg)
	}
}

type homeView struct {
	Setting1Options []string
	Setting1        string
	Setting2        string
	Destination     string
	CameraIndex     int
	Cameras         []iface.CameraDevice
}

func (s *Server) home(c *gin.Context) {
	settings, err := s.opts.Store.Load()
	if err != nil {
		s.log.Error("load settings", zap.Error(err))
		c.String(http.StatusInternalServerError, "could not load settings: %v", err)
		return
	}
	c.HTML(http.StatusOK, "config.html", homeView{
		Setting1Options: config.Setting1Options,
		Setting1:        settings.String(config.KeySetting1),
		Setting2:        settings.String(config.KeySetting2),
		Destination:     settings.Destination(),
		CameraIndex:     settings.CameraIndex(),
		Cameras:         s.cameras(),
	})
}

// updateConfig overwrites the submitted keys and keeps everything else.
func (s *Server) updateConfig(c *gin.Context) {
	raw, ok := c.GetPostForm(config.KeyCameraIndex)
	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if !ok || err != nil {
		c.String(http.StatusBadRequest, "camera_index must be an integer")
		return
	}
	// The loop sends to a bare IP; anything else would keep it from starting.
	if dest, ok := c.GetPostForm(config.KeyDestination); ok && net.ParseIP(strings.TrimSpace(dest)) == nil {
		c.String(http.StatusBadRequest, "ipOfRio must be an IP address")
		return
	}
	settings, err := s.opts.Store.Load()
	if err != nil {
		s.log.Error("load settings", zap.Error(err))
		c.String(http.StatusInternalServerError, "could not load settings: %v", err)
		return
	}
	settings[config.KeyCameraIndex] = idx
	for _, key := range []string{config.KeySetting1, config.KeySetting2, config.KeyDestination} {
		if v, ok := c.GetPostForm(key); ok {
			settings[key] = strings.TrimSpace(v)
		}
	}
	if err := s.opts.Store.Save(settings); err != nil {
		s.log.Error("save settings", zap.Error(err))
		c.String(http.StatusInternalServerError, "could not save settings: %v", err)
		return
	}
	s.log.Info("settings updated", zap.Int("camera_index", idx), zap.String("destination", settings.Destination()))
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) getConfig(c *gin.Context) {
	settings, err := s.opts.Store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) cameras() []iface.CameraDevice {
	if s.opts.Cameras == nil {
		return []iface.CameraDevice{}
	}
	devs := s.opts.Cameras.Devices()
	if devs == nil {
		return []iface.CameraDevice{}
	}
	return devs
}

func (s *Server) stream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	id, frames := s.viewers.Subscribe()
	s.viewerGauge(1)
	s.log.Debug("viewer connected", zap.String("id", id), zap.String("remote", c.ClientIP()))
	defer func() {
		s.viewers.Unsubscribe(id)
		s.viewerGauge(-1)
		_ = conn.Close()
		s.log.Debug("viewer disconnected", zap.String("id", id))
	}()

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) viewerGauge(delta float64) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.Viewers.Add(delta)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
