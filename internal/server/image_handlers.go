package server

import (
	"strconv"
	"strings"

	"marketplace/internal/imagestore"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
)

func sendImage(c *fiber.Ctx, img imagestore.Image) error {
	c.Set(fiber.HeaderContentType, img.ContentType)
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Status(fiber.StatusOK).Send(img.Data)
}

// GetThumbnail handles GET /api/Image/GetSingleThumbNail
// @Summary Listing thumbnail
// @Description Returns the first photo of the listing.
// @Tags images
// @Produce octet-stream
// @Param postId query int true "Post ID"
// @Success 200 {file} binary
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Image/GetSingleThumbNail [get]
func (s *Server) GetThumbnail(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}

	img, err := s.postStore.ReadThumbnail(c.UserContext(), postID)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return sendImage(c, img)
}

// GetPhoto handles GET /api/Image/GetPhotoForPost
// @Summary Listing photo by position
// @Description Returns the photo at 1-based position imageId.
// @Tags images
// @Produce octet-stream
// @Param postId query int true "Post ID"
// @Param imageId query int true "1-based photo position"
// @Success 200 {file} binary
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Image/GetPhotoForPost [get]
func (s *Server) GetPhoto(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}
	index, convErr := strconv.Atoi(strings.TrimSpace(c.Query("imageId")))
	if convErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid image ID"))
	}

	img, err := s.postStore.ReadPhoto(c.UserContext(), postID, index)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return sendImage(c, img)
}
