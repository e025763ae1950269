package exports

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CourseLookup finds a course by id.
type CourseLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

// AttendeeLister lists a course's bookings with payment state.
type AttendeeLister interface {
	ListAttendees(ctx context.Context, courseID uuid.UUID) ([]bookings.Attendee, error)
}

// Handler serves exports.
type Handler struct {
	courses   CourseLookup
	attendees AttendeeLister
	logger    *zap.Logger
}

// NewHandler creates an exports handler.
func NewHandler(courses CourseLookup, attendees AttendeeLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{courses: courses, attendees: attendees, logger: logger}
}

// CourseBookings handles GET /admin/courses/:id/bookings.xlsx.
func (h *Handler) CourseBookings(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	ctx := c.Request.Context()
	course, err := h.courses.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "course not found")
		return
	}
	if err != nil {
		h.logger.Error("load course for export failed", zap.Error(err))
		response.Internal(c, "export failed")
		return
	}
	list, err := h.attendees.ListAttendees(ctx, id)
	if err != nil {
		h.logger.Error("list attendees failed", zap.String("course_id", id.String()), zap.Error(err))
		response.Internal(c, "export failed")
		return
	}
	f, err := BookingsWorkbook(course, list)
	if err != nil {
		h.logger.Error("build bookings workbook failed", zap.Error(err))
		response.Internal(c, "export failed")
		return
	}
	defer f.Close()

	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-bookings.xlsx"`, course.Slug))
	if _, err := f.WriteTo(c.Writer); err != nil {
		h.logger.Error("write bookings workbook failed", zap.Error(err))
	}
}
