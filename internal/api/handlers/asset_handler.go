package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/service"
)

type AssetHandler struct {
	media *service.MediaService
}

func NewAssetHandler(media *service.MediaService) *AssetHandler {
	return &AssetHandler{media: media}
}

// RemoveAsset deletes the asset record and its blob in storage.
func (h *AssetHandler) RemoveAsset(c *fiber.Ctx) error {
	userID := GetUserID(c)
	assetID := c.QueryInt("id", 0)

	err := h.media.RemoveAsset(c.Context(), userID, int64(assetID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "asset not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to remove asset",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
