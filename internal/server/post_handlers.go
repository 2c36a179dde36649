package server

import (
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
)

// PostIDResponse acknowledges a post mutation.
type PostIDResponse struct {
	PostID uint `json:"postId"`
}

// CreatePost handles POST /api/Post/CreateNewPost
// @Summary Create a listing
// @Description Creates a listing owned by the caller. Photos are stored in upload order; the first becomes the thumbnail.
// @Tags posts
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param title formData string true "Listing title"
// @Param description formData string false "Listing description"
// @Param images formData file false "Listing photos in display order"
// @Success 200 {object} PostIDResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Post/CreateNewPost [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	files, err := readUploads(c)
	if err != nil {
		return s.respondServiceError(c, err)
	}

	post, err := s.postStore.Create(c.UserContext(), service.CreatePostInput{
		OwnerID:     callerID(c),
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Images:      files,
	})
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(PostIDResponse{PostID: post.ID})
}

// GetLatestPosts handles GET /api/Post/GetLatestPostsWithLimit
// @Summary Latest listings
// @Description Returns up to limit listings, newest first. A missing limit returns an empty list; larger limits are capped.
// @Tags posts
// @Produce json
// @Param limit query int false "Maximum number of listings"
// @Success 200 {array} models.PostSummary
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Post/GetLatestPostsWithLimit [get]
func (s *Server) GetLatestPosts(c *fiber.Ctx) error {
	limit, err := s.parseLimit(c)
	if err != nil {
		return nil
	}

	summaries, err := s.postStore.GetLatest(c.UserContext(), limit)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(summaries)
}

// GetSinglePost handles GET /api/Post/GetSinglePostInfo
// @Summary Get a listing
// @Tags posts
// @Produce json
// @Param postId query int true "Post ID"
// @Success 200 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Post/GetSinglePostInfo [get]
func (s *Server) GetSinglePost(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}

	post, err := s.postStore.GetByID(c.UserContext(), postID)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(post)
}

// UpdatePost handles PUT /api/Post/UpdatePost
// @Summary Update a listing
// @Description Replaces title and description. When images are sent they replace every existing photo; otherwise photos are untouched.
// @Tags posts
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param postId query int true "Post ID"
// @Param title formData string true "Listing title"
// @Param description formData string false "Listing description"
// @Param images formData file false "Replacement photos in display order"
// @Success 200 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Post/UpdatePost [put]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}

	files, err := readUploads(c)
	if err != nil {
		return s.respondServiceError(c, err)
	}

	post, err := s.postStore.Update(c.UserContext(), service.UpdatePostInput{
		PostID:      postID,
		CallerID:    callerID(c),
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Images:      files,
	})
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/Post/DeletePost
// @Summary Delete a listing
// @Description Deletes the listing, its comments and its photos.
// @Tags posts
// @Produce json
// @Security BearerAuth
// @Param postId query int true "Post ID"
// @Success 200 {object} PostIDResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Post/DeletePost [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}

	if err := s.postStore.Delete(c.UserContext(), service.DeletePostInput{
		PostID:   postID,
		CallerID: callerID(c),
	}); err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(PostIDResponse{PostID: postID})
}
