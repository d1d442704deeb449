package handlers

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	config "github.com/crosspostr/crosspostr/configs"
	"github.com/crosspostr/crosspostr/internal/errs"
	"github.com/crosspostr/crosspostr/internal/service"
	"github.com/crosspostr/crosspostr/pkg/utils"
)

const (
	handshakeCookieName = "oauth_handshake"
	handshakeTTL        = 10 * time.Minute
)

type PlatformHandler struct {
	cs  service.ConnectionService
	cfg config.Config
}

func NewPlatformHandler(cs service.ConnectionService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		cs:  cs,
		cfg: cfg,
	}
}

// ConnectAccount starts the OAuth flow: the state (and PKCE verifier when
// the platform needs one) travel to the callback inside a signed HttpOnly
// cookie, never in server memory.
func (h *PlatformHandler) ConnectAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	platform := c.Params("platform")

	authURL, hs, err := h.cs.Initiate(c.Context(), userID, platform)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown platform",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to start connection",
		})
	}

	cookieValue, err := utils.GenerateHandshakeToken(
		h.cfg.SecretKey,
		strconv.FormatInt(userID, 10),
		platform,
		hs.State,
		hs.Verifier,
		handshakeTTL,
	)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to start connection",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     handshakeCookieName,
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   int(handshakeTTL.Seconds()),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

// CallbackHandler finishes the flow. The handshake cookie is cleared
// unconditionally, and the state check happens before any network call.
// Failures surface only as a generic error marker on the redirect.
func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platform := c.Params("platform")

	cookieValue := c.Cookies(handshakeCookieName)
	h.clearHandshakeCookie(c)

	claims, err := utils.ValidateHandshakeToken(h.cfg.SecretKey, cookieValue)
	if err != nil {
		// expired or tampered handshake
		return h.redirectWithError(c, "oauth_state")
	}

	if claims.Platform != platform || !utils.VerifyState(state, claims.State) {
		return h.redirectWithError(c, "oauth_state")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return h.redirectWithError(c, "oauth_state")
	}

	if err := h.cs.Complete(c.Context(), userID, platform, code, claims.Verifier); err != nil {
		log.Printf("oauth callback failed for platform %s: %v", platform, err)
		return h.redirectWithError(c, "connection_failed")
	}

	redirectURL := fmt.Sprintf("%s/dashboard/accounts?connected=%s", h.cfg.FrontendURL, platform)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) redirectWithError(c *fiber.Ctx, marker string) error {
	redirectURL := fmt.Sprintf("%s/dashboard/accounts?error=%s", h.cfg.FrontendURL, marker)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) clearHandshakeCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     handshakeCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.cs.List(c.Context(), userID)
	if err != nil {
		log.Println(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch social accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID := c.QueryInt("id", 0)

	err := h.cs.Disconnect(c.Context(), userID, int64(accountID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "account not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "unable to delete social account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
