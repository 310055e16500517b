package handlers

import (
	"strconv"
	"strings"

	"resqtail/internal/middleware"
	"resqtail/internal/services"
	"resqtail/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ReportHandler handles HTTP requests for reports.
type ReportHandler struct {
	service *services.ReportService
	log     *logrus.Entry
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(service *services.ReportService, log *logrus.Entry) *ReportHandler {
	return &ReportHandler{
		service: service,
		log:     log.WithField("handler", "reports"),
	}
}

// RegisterRoutes registers the report routes. router must already require
// authentication.
func (h *ReportHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/dashboard", h.HandleDashboard)
	router.Post("/report", h.HandleSubmit)

	reports := router.Group("/reports")
	reports.Get("/", h.HandleDashboard)
	reports.Post("/", h.HandleSubmit)
	reports.Post("/:id/cared", h.HandleMarkCared)
	reports.Post("/:id/delete", h.HandleDelete)
	reports.Delete("/:id", h.HandleDelete)

	// Link-style aliases, API clients only.
	router.Get("/mark_cared/:id", middleware.BearerOnly(), h.HandleMarkCared)
	router.Get("/delete_report/:id", middleware.BearerOnly(), h.HandleDelete)
}

// HandleDashboard lists every report for the logged-in viewer.
func (h *ReportHandler) HandleDashboard(c *fiber.Ctx) error {
	identity := middleware.CurrentIdentity(c)
	reports, err := h.service.List(c.UserContext())
	if err != nil {
		return respondError(c, h.log, err, "fetch reports")
	}
	return c.JSON(fiber.Map{
		"reports": reports,
		"name":    identity.Name,
		"role":    identity.Role,
	})
}

// HandleSubmit accepts a multipart form with the photo, or a JSON body whose
// image_url points at an already hosted photo.
func (h *ReportHandler) HandleSubmit(c *fiber.Ctx) error {
	identity := middleware.CurrentIdentity(c)

	if c.Is("json") {
		var in services.SubmitInput
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid request body",
			})
		}
		report, err := h.service.Submit(c.UserContext(), identity, in)
		if err != nil {
			return respondError(c, h.log, err, "submit the report")
		}
		return submitted(c, report)
	}

	lat, latErr := parseCoordinate(c.FormValue("lat"))
	lon, lonErr := parseCoordinate(c.FormValue("lon"))
	if latErr != nil || lonErr != nil {
		fields := map[string]string{}
		if latErr != nil {
			fields["lat"] = "must be a number"
		}
		if lonErr != nil {
			fields["lon"] = "must be a number"
		}
		return respondError(c, h.log, &services.ValidationError{Fields: fields}, "submit the report")
	}

	in := services.SubmitInput{
		Description: c.FormValue("description"),
		Latitude:    &lat,
		Longitude:   &lon,
	}

	var image *storage.ImageFile
	if fh, err := c.FormFile("image"); err == nil && fh.Filename != "" {
		file, err := fh.Open()
		if err != nil {
			return respondError(c, h.log, err, "read the uploaded image")
		}
		defer file.Close()
		image = &storage.ImageFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Size:        fh.Size,
			Body:        file,
		}
	}

	report, err := h.service.SubmitWithImage(c.UserContext(), identity, in, image)
	if err != nil {
		return respondError(c, h.log, err, "submit the report")
	}
	return submitted(c, report)
}

// HandleMarkCared lets a volunteer close a report.
func (h *ReportHandler) HandleMarkCared(c *fiber.Ctx) error {
	report, changed, err := h.service.MarkCared(c.UserContext(), c.Params("id"), middleware.CurrentIdentity(c))
	if err != nil {
		return respondError(c, h.log, err, "mark reports as cared")
	}

	message := "Marked as cared."
	if !changed {
		message = "Report was already marked as cared."
	}
	return c.JSON(fiber.Map{
		"message": message,
		"changed": changed,
		"report":  report,
	})
}

// HandleDelete lets a reporter remove their own report.
func (h *ReportHandler) HandleDelete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("id"), middleware.CurrentIdentity(c)); err != nil {
		return respondError(c, h.log, err, "delete this report")
	}
	return c.JSON(fiber.Map{
		"message": "Report deleted successfully.",
	})
}

func submitted(c *fiber.Ctx, report interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Report submitted successfully.",
		"report":   report,
		"redirect": "/dashboard",
	})
}

func parseCoordinate(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}
