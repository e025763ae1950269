package courses

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/response"
	"github.com/hortus-cognitor/backend/pkg/storage"
)

// Catalog is the part of Repository the handler reads and writes.
type Catalog interface {
	ListActive(ctx context.Context) ([]Listing, error)
	GetBySlug(ctx context.Context, slug string) (*models.Course, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	ConfirmedCount(ctx context.Context, courseID uuid.UUID) (int, error)
	Sessions(ctx context.Context, courseID uuid.UUID) ([]models.CourseSession, error)
	Instructors(ctx context.Context, courseID uuid.UUID) ([]models.Instructor, error)
	Tiers(ctx context.Context, courseID uuid.UUID) ([]models.PricingTier, error)
	ActivePlans(ctx context.Context) ([]models.PaymentPlan, error)
	SetHeroImage(ctx context.Context, courseID uuid.UUID, key string) error
}

// Media stores and signs course images. *storage.S3 satisfies it.
type Media interface {
	PresignedURL(ctx context.Context, key string) (string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
	Delete(ctx context.Context, key string) error
}

// Handler serves the public course catalogue and admin media uploads.
type Handler struct {
	catalog        Catalog
	media          Media
	publishableKey string
	logger         *zap.Logger
}

// NewHandler creates a courses handler. media may be nil when S3 is not configured.
func NewHandler(catalog Catalog, media Media, publishableKey string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{catalog: catalog, media: media, publishableKey: publishableKey, logger: logger}
}

// List handles GET /courses.
func (h *Handler) List(c *gin.Context) {
	list, err := h.catalog.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("list courses failed", zap.Error(err))
		response.Internal(c, "failed to list courses")
		return
	}
	if list == nil {
		list = []Listing{}
	}
	response.OK(c, list)
}

type instructorView struct {
	models.Instructor
	PhotoURL string `json:"photo_url,omitempty"`
}

// Get handles GET /courses/:slug.
func (h *Handler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	course, ok := h.activeCourse(c)
	if !ok {
		return
	}
	confirmed, err := h.catalog.ConfirmedCount(ctx, course.ID)
	if err != nil {
		h.logger.Error("count confirmed bookings failed", zap.Error(err), zap.String("course", course.Slug))
		response.Internal(c, "failed to load course")
		return
	}
	sessions, err := h.catalog.Sessions(ctx, course.ID)
	if err != nil {
		h.logger.Error("load sessions failed", zap.Error(err), zap.String("course", course.Slug))
		response.Internal(c, "failed to load course")
		return
	}
	instructors, err := h.catalog.Instructors(ctx, course.ID)
	if err != nil {
		h.logger.Error("load instructors failed", zap.Error(err), zap.String("course", course.Slug))
		response.Internal(c, "failed to load course")
		return
	}
	views := make([]instructorView, 0, len(instructors))
	for _, in := range instructors {
		views = append(views, instructorView{Instructor: in, PhotoURL: h.signedURL(ctx, in.PhotoKey)})
	}
	response.OK(c, gin.H{
		"course":         newListing(*course, confirmed),
		"hero_image_url": h.signedURL(ctx, course.HeroImageKey),
		"sessions":       sessions,
		"instructors":    views,
	})
}

type planOption struct {
	PlanID        uuid.UUID       `json:"plan_id"`
	Kind          string          `json:"kind"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	FinalAmount   decimal.Decimal `json:"final_amount"`
}

type tierOption struct {
	models.PricingTier
	Label           string          `json:"label"`
	PricePerSession decimal.Decimal `json:"price_per_session"`
	Plans           []planOption    `json:"plans"`
}

// PaymentOptions handles GET /courses/:slug/payment-options.
func (h *Handler) PaymentOptions(c *gin.Context) {
	ctx := c.Request.Context()
	course, ok := h.activeCourse(c)
	if !ok {
		return
	}
	tiers, err := h.catalog.Tiers(ctx, course.ID)
	if err != nil {
		h.logger.Error("load tiers failed", zap.Error(err), zap.String("course", course.Slug))
		response.Internal(c, "failed to load payment options")
		return
	}
	plans, err := h.catalog.ActivePlans(ctx)
	if err != nil {
		h.logger.Error("load plans failed", zap.Error(err))
		response.Internal(c, "failed to load payment options")
		return
	}

	options := make([]tierOption, 0, len(tiers))
	for _, t := range tiers {
		opt := tierOption{PricingTier: t, Label: models.TierLabel(t.Tier), PricePerSession: t.PricePerSession(), Plans: []planOption{}}
		for _, p := range plans {
			deposit, final, err := ledger.Split(t.Price, p)
			if err != nil {
				h.logger.Warn("skipping misconfigured plan", zap.String("plan_id", p.ID.String()), zap.Error(err))
				continue
			}
			opt.Plans = append(opt.Plans, planOption{PlanID: p.ID, Kind: p.Kind, DepositAmount: deposit, FinalAmount: final})
		}
		options = append(options, opt)
	}
	if plans == nil {
		plans = []models.PaymentPlan{}
	}
	response.OK(c, gin.H{
		"course_id":       course.ID,
		"tiers":           options,
		"plans":           plans,
		"publishable_key": h.publishableKey,
	})
}

// UploadHeroImage handles POST /admin/courses/:id/hero-image (multipart field "file").
func (h *Handler) UploadHeroImage(c *gin.Context) {
	if h.media == nil {
		response.ServiceUnavailable(c, "media storage not configured")
		return
	}
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	if file.Size > storage.MaxImageSize {
		response.BadRequest(c, "file size exceeds 5MB limit")
		return
	}
	contentType := file.Header.Get("Content-Type")
	ext, ok := storage.ImageExtension(contentType)
	if !ok {
		response.BadRequest(c, "invalid file type: only jpg, png and webp images allowed")
		return
	}
	course, err := h.catalog.GetByID(c.Request.Context(), courseID)
	if err != nil {
		response.NotFound(c, "course not found")
		return
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	key := storage.CourseImageKey(courseID.String(), ext)
	if err := h.media.Upload(c.Request.Context(), key, contentType, rc); err != nil {
		h.logger.Error("S3 upload failed", zap.Error(err), zap.String("course_id", courseID.String()), zap.String("key", key))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	if err := h.catalog.SetHeroImage(c.Request.Context(), courseID, key); err != nil {
		h.logger.Error("save hero image failed", zap.Error(err), zap.String("course_id", courseID.String()))
		response.Internal(c, "failed to save image")
		return
	}
	if old := course.HeroImageKey; old != "" && old != key {
		if err := h.media.Delete(c.Request.Context(), old); err != nil {
			h.logger.Warn("delete previous hero image failed", zap.Error(err), zap.String("key", old))
		}
	}
	response.OK(c, gin.H{"key": key, "url": h.signedURL(c.Request.Context(), key)})
}

func (h *Handler) activeCourse(c *gin.Context) (*models.Course, bool) {
	course, err := h.catalog.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("load course failed", zap.Error(err), zap.String("slug", c.Param("slug")))
			response.Internal(c, "failed to load course")
			return nil, false
		}
		response.NotFound(c, "course not found")
		return nil, false
	}
	if !course.IsActive {
		response.NotFound(c, "course not found")
		return nil, false
	}
	return course, true
}

func (h *Handler) signedURL(ctx context.Context, key string) string {
	if key == "" || h.media == nil {
		return ""
	}
	url, err := h.media.PresignedURL(ctx, key)
	if err != nil {
		h.logger.Warn("presign media failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}
