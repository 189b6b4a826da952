package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/rayhan/internal/config"
	"github.com/example/rayhan/internal/middleware"
	"github.com/example/rayhan/internal/models"
	"github.com/example/rayhan/internal/otp"
	"github.com/example/rayhan/internal/utils"
)

// AuthHandler bundles dependencies for authentication endpoints. Every
// account mutation spends the one-time verified ticket as its final gate.
type AuthHandler struct {
	db    *gorm.DB
	cfg   *config.Config
	codes *otp.Store
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, codes *otp.Store) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, codes: codes}
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

// Register creates a new user account for a phone that passed OTP
// verification.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Phone == "" || req.Password == "" || req.FirstName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing required fields")
	}

	var existing models.User
	if err := h.db.Where("phone = ?", req.Phone).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "user already exists")
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	if !h.codes.ConsumeVerified(c.Context(), req.Phone, "register") {
		return fiber.NewError(fiber.StatusForbidden, "phone not verified")
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user := models.User{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		DisplayName:  fmt.Sprintf("%s %s", req.FirstName, req.LastName),
		PasswordHash: passwordHash,
		IsVerified:   true,
	}

	if err := h.db.Create(&user).Error; err != nil {
		return err
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":           user.ID,
			"first_name":   user.FirstName,
			"last_name":    user.LastName,
			"phone":        user.Phone,
			"display_name": user.DisplayName,
		},
		"token": token,
	})
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login authenticates an existing user.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var user models.User
	if err := h.db.Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":           user.ID,
			"display_name": user.DisplayName,
			"phone":        user.Phone,
		},
		"token": token,
	})
}

type resetPasswordRequest struct {
	Phone       string `json:"phone"`
	NewPassword string `json:"new_password"`
}

// ResetPassword updates the password for a phone that passed OTP
// verification for the reset_password purpose.
func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Phone == "" || req.NewPassword == "" {
		return fiber.NewError(fiber.StatusBadRequest, "phone and new_password are required")
	}
	if len(req.NewPassword) < 6 {
		return fiber.NewError(fiber.StatusBadRequest, "password must be at least 6 characters")
	}

	var user models.User
	if err := h.db.Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	if !h.codes.ConsumeVerified(c.Context(), req.Phone, "reset_password") {
		return fiber.NewError(fiber.StatusForbidden, "phone not verified")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	if err := h.db.Model(&models.User{}).
		Where("phone = ?", req.Phone).
		Update("password_hash", hash).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to update password")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "password updated successfully",
	})
}

type changePhoneRequest struct {
	NewPhone string `json:"new_phone"`
}

// ChangePhone moves the authenticated account to a new phone number after
// that number passed OTP verification.
func (h *AuthHandler) ChangePhone(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	var req changePhoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.NewPhone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "new_phone is required")
	}

	var existing models.User
	if err := h.db.Where("phone = ?", req.NewPhone).First(&existing).Error; err == nil {
		return fiber.NewError(fiber.StatusConflict, "phone already in use")
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	if !h.codes.ConsumeVerified(c.Context(), req.NewPhone, "change_phone") {
		return fiber.NewError(fiber.StatusForbidden, "phone not verified")
	}

	if err := h.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("phone", req.NewPhone).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{"success": true})
}

// Profile returns the authenticated user.
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
	}

	var user models.User
	if err := h.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true, "user": user})
}
