package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/catalog"
	"regimen-risk/backend/internal/metrics"
	"regimen-risk/backend/internal/model"
	"regimen-risk/backend/internal/scoring"
	"regimen-risk/backend/internal/store"
)

const (
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Config defines server dependencies.
type Config struct {
	DBPath         string
	ModelPath      string
	AllowedOrigins []string
	SilentDB       bool
	MaxCandidates  int
	DefaultTopK    int
	Workers        int
	CacheSize      int
}

// Server wires HTTP handlers with the knowledge base and the scoring engine.
type Server struct {
	db             *store.Database
	catalog        *catalog.Catalog
	classifier     *model.Classifier
	engine         *scoring.Engine
	metrics        *metrics.Collector
	allowedOrigins []string
	modelPath      string
	maxCandidates  int
	defaultTopK    int
}

// NewServer opens the knowledge base, loads the model and builds the engine.
// Any missing dependency is a startup error.
func NewServer(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, errors.New("db path required")
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path required")
	}

	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}
	rows, err := db.ListDrugs()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load drug metadata: %w", err)
	}
	drugs := catalog.FromStore(rows)

	classifier, err := model.Load(cfg.ModelPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load severity model: %w", err)
	}

	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = scoring.DefaultMaxCandidates
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = scoring.DefaultTopK
	}
	engine, err := scoring.NewEngine(drugs, classifier, scoring.EngineOptions{
		MaxCandidates: cfg.MaxCandidates,
		DefaultTopK:   cfg.DefaultTopK,
		Workers:       cfg.Workers,
		CacheSize:     cfg.CacheSize,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scoring engine: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"drugs":          drugs.Len(),
		"model":          classifier.String(),
		"max_candidates": cfg.MaxCandidates,
		"default_top_k":  cfg.DefaultTopK,
	}).Info("scoring engine ready")

	return &Server{
		db:             db,
		catalog:        drugs,
		classifier:     classifier,
		engine:         engine,
		metrics:        metrics.NewCollector("regimen_risk"),
		allowedOrigins: cfg.AllowedOrigins,
		modelPath:      cfg.ModelPath,
		maxCandidates:  cfg.MaxCandidates,
		defaultTopK:    cfg.DefaultTopK,
	}, nil
}

// Close releases the knowledge base.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(), s.metrics.Middleware(), limitBody(maxBodyBytes))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
	corsCfg.ExposeHeaders = []string{requestIDHeader}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/", s.handleRoot)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Unprefixed paths served by the first version of the API.
	r.POST("/risk_score", s.handleRiskScore)
	r.POST("/recommend_drug", s.handleRecommend)
	r.GET("/interaction_graph", s.handleInteractionGraph)

	api := r.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)
		api.GET("/config", s.handleConfig)
		api.GET("/drugs", s.handleDrugs)
		api.POST("/risk_score", s.handleRiskScore)
		api.POST("/recommend_drug", s.handleRecommend)
		api.GET("/recommend/stream", s.handleRecommendStream)
		api.GET("/interaction_graph", s.handleInteractionGraph)
	}

	return r, nil
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "API is running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"model_path":          s.modelPath,
		"model_classes":       len(s.classifier.Classes()),
		"severity_labels":     s.classifier.Labels(),
		"drug_count":          s.catalog.Len(),
		"max_candidates":      s.maxCandidates,
		"default_top_k":       s.defaultTopK,
		"allowed_origins":     s.allowedOrigins,
		"recommend_stream_ws": "/api/recommend/stream",
	})
}

func (s *Server) handleDrugs(c *gin.Context) {
	drugs := s.catalog.Drugs(c.Query("class"))
	c.JSON(http.StatusOK, DrugsResponse{Items: drugs, Total: len(drugs)})
}

func (s *Server) handleRiskScore(c *gin.Context) {
	var req RiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	started := time.Now()
	assessment := s.engine.Assess(req.DrugIDs, req.Profile())
	s.metrics.ObserveAssessment(time.Since(started))

	logrus.WithFields(logrus.Fields{
		requestIDKey:  requestIDFrom(c),
		"drugs":       len(req.DrugIDs),
		"total_pairs": assessment.TotalPairs,
		"risk_score":  assessment.RiskScore,
	}).Debug("regimen assessed")
	c.JSON(http.StatusOK, RiskResponse{Risk: assessment})
}

func (s *Server) handleRecommend(c *gin.Context) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if err := validateRecommend(req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	evaluated := 0
	results, err := s.engine.Recommend(c.Request.Context(), scoring.SearchRequest{
		Regimen:  req.DrugIDs,
		Target:   req.TargetDrug,
		TopK:     req.TopK,
		Progress: func(scoring.Recommendation) { evaluated++ },
	})
	if err != nil {
		s.metrics.ObserveRecommendation("error", evaluated)
		s.renderError(c, recommendErrorStatus(err), err)
		return
	}
	s.metrics.ObserveRecommendation(outcomeOf(results), evaluated)

	logrus.WithFields(logrus.Fields{
		requestIDKey: requestIDFrom(c),
		"target":     req.TargetDrug,
		"evaluated":  evaluated,
		"returned":   len(results),
	}).Debug("recommendations computed")
	c.JSON(http.StatusOK, RecommendResponse{Recommendations: results})
}

func (s *Server) handleInteractionGraph(c *gin.Context) {
	rows, err := s.db.ListInteractions(0)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, GraphResponse{
		Nodes: nodesFromCatalog(s.catalog.Drugs("")),
		Edges: edgesFromModel(rows),
	})
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error(), requestIDKey: requestIDFrom(c)})
}

func validateRecommend(req RecommendRequest) error {
	if req.DrugIDs == nil {
		return errors.New("drug_ids is required")
	}
	if strings.TrimSpace(req.TargetDrug) == "" {
		return errors.New("target_drug is required")
	}
	if req.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", req.TopK)
	}
	return nil
}

// recommendErrorStatus maps a search failure to a status. A cancelled or
// expired request context means the client left or timed out.
func recommendErrorStatus(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func outcomeOf(results []scoring.Recommendation) string {
	if len(results) == 0 {
		return "empty"
	}
	return "ok"
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			requestIDKey: requestIDFrom(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start),
		}).Info("request handled")
	}
}

func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
