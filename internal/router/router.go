package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/museum-admin-api/api/swagger"
	"github.com/noah-isme/museum-admin-api/internal/handler"
	"github.com/noah-isme/museum-admin-api/internal/middleware"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/service"
	"github.com/noah-isme/museum-admin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/museum-admin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/museum-admin-api/pkg/middleware/requestid"
)

// Options configures the HTTP surface.
type Options struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Tokens         middleware.TokenValidator
	Audit          middleware.AuditWriter
	Metrics        *service.MetricsService
	Logger         *zap.Logger
}

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Donations   *handler.DonationHandler
	Attachments *handler.AttachmentHandler
	Metrics     *handler.MetricsHandler
}

// New builds the gin engine with every donation route mounted.
func New(opts Options, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	prefix := "/" + strings.Trim(opts.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)
	if opts.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(prefix)
	api.POST("/donations", middleware.OptionalJWT(opts.Tokens), h.Donations.Submit)
	// Signed tokens authorise downloads so links work from plain browser requests.
	api.GET("/donations/:id/attachments/:attachmentId/download", h.Attachments.Download)

	admin := api.Group("")
	admin.Use(middleware.JWT(opts.Tokens), middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	{
		admin.GET("/donations", h.Donations.List)
		admin.GET("/donations/export", middleware.Audit(opts.Audit, opts.Logger, models.AuditActionDonationExport, "donation"), h.Donations.Export)
		admin.GET("/donations/:id", h.Donations.Get)
		admin.DELETE("/donations/:id", h.Donations.Delete)
		admin.GET("/donations/:id/timeline", h.Donations.Timeline)
		admin.GET("/donations/:id/history", h.Donations.History)
		admin.POST("/donations/:id/schedule-meeting", h.Donations.ScheduleMeeting)
		admin.POST("/donations/:id/complete-meeting", h.Donations.CompleteMeeting)
		admin.POST("/donations/:id/city-hall", h.Donations.SubmitToCityHall)
		admin.POST("/donations/:id/advance", h.Donations.Advance)
		admin.POST("/donations/:id/final-approve", h.Donations.FinalApprove)
		admin.POST("/donations/:id/reject", h.Donations.Reject)
		admin.GET("/donations/:id/appreciation-letter", middleware.Audit(opts.Audit, opts.Logger, models.AuditActionLetterDownload, "donation"), h.Donations.AppreciationLetter)
		admin.GET("/donations/:id/attachments", h.Attachments.List)
		admin.POST("/donations/:id/attachments", h.Attachments.Upload)
		admin.GET("/metrics/summary", h.Metrics.Summary)
	}

	return r
}
