package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/queue"
	"github.com/crosspostr/crosspostr/internal/scheduler"
	"github.com/crosspostr/crosspostr/internal/service"
	"github.com/crosspostr/crosspostr/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	sched       *scheduler.Scheduler
	AsynqClient *asynq.Client
}

func NewPostHandler(s service.PostService, sched *scheduler.Scheduler, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: s, sched: sched, AsynqClient: asynqClient}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to parse form",
		})
	}

	pc := &transfer.PostCreation{
		Caption:        c.FormValue("caption"),
		Title:          c.FormValue("title"),
		ScheduledTime:  c.FormValue("scheduled_time"),
		TargetAccounts: c.FormValue("target_accounts"),
		Draft:          c.FormValue("draft") == "true",
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no files selected",
		})
	}

	postID, delay, err := h.s.CreatePost(c.Context(), userID, pc, files)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to create post",
		})
	}

	// drafts wait for a manual publish; everything else gets a delivery task
	if !pc.Draft {
		err = queue.EnqueuePost(h.AsynqClient, queue.PublishPostPayload{PostID: postID, UserID: userID}, delay)
		if err != nil {
			slog.Error(err.Error())
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "post scheduled successfully",
		"post_id": postID,
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	if postID != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postID), userID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "post not found",
				})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unable to get post",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)
	}

	posts, err := h.s.List(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// PublishPost triggers the same per-account publish logic as one scheduler
// pass, synchronously, for a single owned post.
func (h *PostHandler) PublishPost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	summary, err := h.sched.PublishPost(c.Context(), userID, int64(postID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "post not found",
			})
		}
		if errors.Is(err, errs.ErrValidation) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "post is not publishable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to publish post",
		})
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postID := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userID, int64(postID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "post not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
