package dashboard

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"markflow/config"
	"markflow/internal/metrics"
	"markflow/internal/monitor"
	"markflow/logger"
	"markflow/models"
)

// DataSource is the engine surface the dashboard reads. *engine.Engine
// implements it; tests substitute fixtures.
type DataSource interface {
	CurrentMark() (models.MarkPriceSnapshot, bool)
	MarkHistory(from, to uint64) []models.MarkPriceSnapshot
	MonitorStatus() monitor.Status
	ReArm()
	Positions() []models.Position
	Orders() []models.TriggerOrder
	SourceHealth() map[string]models.SourceHealth
}

// Server hosts the Gin-powered operations dashboard.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	view              DataSource
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
	hub               *markHub
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, view DataSource) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Addr = normalizeAddress(cfg.Addr)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogLimit <= 0 {
		cfg.LogLimit = 200
	}

	if cfg.MetricLimit <= 0 {
		cfg.MetricLimit = 200
	}

	metricStore := newMetricStore(cfg.MetricLimit)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	var logStore *logStore
	if cfg.CaptureLogs {
		logStore = newLogStore(cfg.LogLimit)
		log.AddHook(logStore)
	}

	var sampler *resourceSampler
	if cfg.Resources {
		sampler = newResourceSampler(cfg.MetricLimit, cfg.RefreshInterval, cfg.ResourcePath, log)
	}

	server := &Server{
		cfg:               cfg,
		log:               log,
		view:              view,
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
		hub:               newMarkHub(view, log),
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}
	s.hub.start(ctx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	s.hub.stop()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Addr
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Allow running behind load balancers and accessing the dashboard from
	// public networks by trusting all proxies by default. Users can
	// override Gin's trusted proxy list via the GIN_TRUSTED_PROXIES
	// environment variable if needed.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("index").Parse(indexPage))
	router.SetHTMLTemplate(tmpl)

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	router.GET("/api/mark/current", s.handleCurrent)
	router.GET("/api/mark/history", s.handleHistory)
	router.GET("/api/monitor", s.handleMonitor)
	router.POST("/api/monitor/rearm", s.handleReArm)
	router.GET("/api/positions", s.handlePositions)
	router.GET("/ws/marks", s.hub.handler)

	router.GET("/api/metrics", func(c *gin.Context) {
		metricsSnapshot := s.metricStore.snapshot()
		payload := make([]gin.H, 0, len(metricsSnapshot))
		for _, m := range metricsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": m.Timestamp.Format(time.RFC3339Nano),
				"component": m.Component,
				"name":      m.Name,
				"value":     m.Value,
				"type":      m.Type,
				"fields":    m.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		payload := make([]gin.H, 0)
		if s.logStore != nil {
			for _, l := range s.logStore.snapshot() {
				payload = append(payload, gin.H{
					"timestamp": l.Timestamp.Format(time.RFC3339Nano),
					"level":     l.Level,
					"component": l.Component,
					"message":   l.Message,
					"fields":    l.Fields,
				})
			}
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		snapshots := s.resourceSampler.snapshot()
		payload := make([]gin.H, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, gin.H{
				"timestamp":      snap.Timestamp.Format(time.RFC3339Nano),
				"cpu_percent":    snap.CPUPercent,
				"memory_used":    snap.MemoryUsed,
				"memory_total":   snap.MemoryTotal,
				"memory_percent": snap.MemoryPct,
				"disk_used":      snap.DiskUsed,
				"disk_total":     snap.DiskTotal,
				"disk_percent":   snap.DiskPct,
			})
		}
		c.JSON(http.StatusOK, gin.H{"resources": payload})
	})

	return router, nil
}

func (s *Server) handleCurrent(c *gin.Context) {
	snap, ok := s.view.CurrentMark()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no published mark"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleHistory(c *gin.Context) {
	current, ok := s.view.CurrentMark()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"snapshots": []models.MarkPriceSnapshot{}, "count": 0})
		return
	}

	from := uint64(1)
	to := current.Version
	if raw := c.Query("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from version"})
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to version"})
			return
		}
		to = parsed
	}
	if from > to {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from exceeds to"})
		return
	}

	snapshots := s.view.MarkHistory(from, to)
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

func (s *Server) handleMonitor(c *gin.Context) {
	status := s.view.MonitorStatus()
	health := s.view.SourceHealth()

	sources := make(gin.H, len(health))
	for id, h := range health {
		sources[id] = gin.H{
			"price":        h.Sample.Price,
			"observed_at":  h.Sample.ObservedAt.Format(time.RFC3339Nano),
			"staleness_ms": h.Staleness.Milliseconds(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"state":          string(status.State),
		"since":          status.Since.Format(time.RFC3339Nano),
		"outage_for_ms":  status.OutageFor.Milliseconds(),
		"rearm_pending":  status.RearmPending,
		"rearm_required": status.RearmRequired,
		"sources":        sources,
	})
}

func (s *Server) handleReArm(c *gin.Context) {
	s.view.ReArm()
	s.log.WithComponent("dashboard").Warn("operator re-arm accepted")
	c.JSON(http.StatusOK, gin.H{"status": s.view.MonitorStatus()})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"positions": s.view.Positions(),
		"orders":    s.view.Orders(),
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
