package server

import (
	"marketplace/internal/models"
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateCommentRequest is the body of CreateNewComment. The author is always
// the caller; any userId sent by the client is ignored.
type CreateCommentRequest struct {
	PostID  uint   `json:"postId"`
	Content string `json:"content"`
}

// UpdateCommentRequest is the body of UpdateComment.
type UpdateCommentRequest struct {
	Content string `json:"content"`
}

// CommentIDResponse acknowledges a comment deletion.
type CommentIDResponse struct {
	CommentID uint `json:"commentId"`
}

// CreateComment handles POST /api/Comment/CreateNewComment
// @Summary Comment on a listing
// @Tags comments
// @Accept json
// @Security BearerAuth
// @Param request body CreateCommentRequest true "Comment"
// @Success 204
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Comment/CreateNewComment [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req CreateCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}
	if req.PostID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid post ID"))
	}

	if _, err := s.commentStore.Create(c.UserContext(), service.CreateCommentInput{
		PostID:   req.PostID,
		AuthorID: callerID(c),
		Content:  req.Content,
	}); err != nil {
		return s.respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetComments handles GET /api/Comment/GetPostsComments
// @Summary Comments of a listing
// @Description Returns the comments of a listing, newest first. Unknown listings yield an empty list.
// @Tags comments
// @Produce json
// @Param postId query int true "Post ID"
// @Success 200 {array} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Comment/GetPostsComments [get]
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := s.parseQueryID(c, "postId")
	if err != nil {
		return nil
	}

	comments, err := s.commentStore.List(c.UserContext(), postID)
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(comments)
}

// UpdateComment handles PUT /api/Comment/UpdateComment
// @Summary Edit a comment
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param commentId query int true "Comment ID"
// @Param request body UpdateCommentRequest true "New content"
// @Success 200 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Comment/UpdateComment [put]
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID, err := s.parseQueryID(c, "commentId")
	if err != nil {
		return nil
	}

	var req UpdateCommentRequest
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	comment, err := s.commentStore.Update(c.UserContext(), service.UpdateCommentInput{
		CommentID: commentID,
		CallerID:  callerID(c),
		Content:   req.Content,
	})
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/Comment/DeleteComment
// @Summary Delete a comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param commentId query int true "Comment ID"
// @Success 200 {object} CommentIDResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /Comment/DeleteComment [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	commentID, err := s.parseQueryID(c, "commentId")
	if err != nil {
		return nil
	}

	if err := s.commentStore.Delete(c.UserContext(), service.DeleteCommentInput{
		CommentID: commentID,
		CallerID:  callerID(c),
	}); err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(CommentIDResponse{CommentID: commentID})
}
