package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tenisdos/shop-checkout/internal/catalog"
	"github.com/tenisdos/shop-checkout/internal/checkout"
	"github.com/tenisdos/shop-checkout/internal/contact"
	"github.com/tenisdos/shop-checkout/internal/customer"
	"github.com/tenisdos/shop-checkout/internal/httpx"
	"github.com/tenisdos/shop-checkout/internal/metrics"
	"github.com/tenisdos/shop-checkout/internal/order"
	"github.com/tenisdos/shop-checkout/internal/payment"
	"github.com/tenisdos/shop-checkout/internal/session"
	"github.com/tenisdos/shop-checkout/internal/validation"
)

// checkoutAPI is the slice of the orchestrator the HTTP surface needs.
type checkoutAPI interface {
	Initiate(ctx context.Context, customerID string, lines []checkout.CartLine) (*checkout.InitiateResult, error)
	Capture(ctx context.Context, providerOrderID string) (*checkout.CaptureOutcome, error)
	ProcessWebhook(ctx context.Context, rawEvent []byte, h payment.WebhookHeaders) error
}

// RegisterRequest payload for account creation.
// swagger:model RegisterRequest
type RegisterRequest struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// LoginRequest payload for session creation.
// swagger:model LoginRequest
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CaptureRequest payload for payment capture.
// swagger:model CaptureRequest
type CaptureRequest struct {
	ProviderOrderID string `json:"provider_order_id" validate:"required"`
}

// ForgotPasswordRequest payload for requesting a reset link.
// swagger:model ForgotPasswordRequest
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest payload for consuming a reset token.
// swagger:model ResetPasswordRequest
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// ContactRequest payload for the contact form.
// swagger:model ContactRequest
type ContactRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required"`
}

// @Summary Register a new customer account
// @Accept json
// @Produce json
// @Param payload body RegisterRequest true "account data"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/register [post]
func registerHandler(customers customer.Repository, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		hash, err := customer.HashPassword(req.Password)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		cu := &customer.Customer{
			ID:           uuid.NewString(),
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hash,
		}
		if err := customers.Create(c.Request.Context(), cu); err != nil {
			if errors.Is(err, customer.ErrAlreadyExist) {
				httpx.Error(c, http.StatusBadRequest, "email already registered")
				return
			}
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": cu.ID})
	}
}

// @Summary Log in and obtain a session token
// @Accept json
// @Produce json
// @Param payload body LoginRequest true "credentials"
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/auth/login [post]
func loginHandler(customers customer.Repository, sessions session.Store, ttl time.Duration, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		cu, err := customers.GetByEmail(c.Request.Context(), req.Email)
		if err != nil || !cu.Active || !customer.CheckPassword(cu.PasswordHash, req.Password) {
			httpx.Error(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		_ = customers.TouchLogin(c.Request.Context(), cu.ID)
		token, err := sessions.Create(c.Request.Context(), cu.ID, ttl)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user":  gin.H{"id": cu.ID, "name": cu.Name, "email": cu.Email},
		})
	}
}

// resetMailer is the slice of the mail sender the reset flow needs. May be
// backed by nothing when mail is not configured; the token is then only
// logged.
type resetMailer interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

const resetTokenTTL = time.Hour

// @Summary Request a password-reset link
// @Accept json
// @Produce json
// @Param payload body ForgotPasswordRequest true "account email"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/auth/forgot-password [post]
func forgotPasswordHandler(customers customer.Repository, mailer resetMailer, baseURL string, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ForgotPasswordRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		cu, err := customers.GetByEmail(c.Request.Context(), req.Email)
		if err != nil {
			httpx.Error(c, http.StatusNotFound, "no account with this email")
			return
		}
		if !cu.Active {
			httpx.Error(c, http.StatusUnauthorized, "account is deactivated")
			return
		}

		token := uuid.NewString()
		if err := customers.SetResetToken(c.Request.Context(), req.Email, token, time.Now().Add(resetTokenTTL)); err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}

		resetURL := baseURL + "/views/reset_password.html?token=" + token
		if mailer != nil {
			if err := mailer.SendPasswordReset(c.Request.Context(), cu.Email, resetURL); err != nil {
				log.Printf("[auth] reset mail to %s failed: %v", cu.Email, err)
				httpx.Error(c, http.StatusInternalServerError, "could not send reset email")
				return
			}
		} else {
			log.Printf("[auth] mail not configured, reset token for %s: %s", cu.Email, token)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "reset instructions sent"})
	}
}

// @Summary Set a new password using a reset token
// @Accept json
// @Produce json
// @Param payload body ResetPasswordRequest true "token and new password"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Router /api/auth/reset-password [post]
func resetPasswordHandler(customers customer.Repository, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResetPasswordRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		hash, err := customer.HashPassword(req.Password)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		if err := customers.ResetPassword(c.Request.Context(), req.Token, hash); err != nil {
			if errors.Is(err, customer.ErrNotFound) {
				httpx.Error(c, http.StatusBadRequest, "invalid or expired reset token")
				return
			}
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func logoutHandler(sessions session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok := session.Token(c.Request); tok != "" {
			_ = sessions.Delete(c.Request.Context(), tok)
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// @Summary Initiate checkout: reserve inventory, open order, create provider order
// @Accept json
// @Produce json
// @Param payload body checkout.InitiateRequest true "cart snapshot"
// @Success 200 {object} checkout.InitiateResult
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /checkout/initiate [post]
func initiateCheckoutHandler(svc checkoutAPI, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.InitiateRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		customerID := c.GetString(session.CustomerKey)
		res, err := svc.Initiate(c.Request.Context(), customerID, req.Lines)
		if err != nil {
			switch {
			case errors.Is(err, checkout.ErrInvalidCart):
				httpx.Error(c, http.StatusBadRequest, err.Error())
			case errors.Is(err, checkout.ErrInsufficientStock):
				httpx.Error(c, http.StatusConflict, err.Error())
			case errors.Is(err, checkout.ErrGatewayUnavailable):
				httpx.Error(c, http.StatusBadGateway, err.Error())
			default:
				httpx.Error(c, http.StatusInternalServerError, "internal error")
			}
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary Capture an approved provider order
// @Accept json
// @Produce json
// @Param payload body CaptureRequest true "provider order id"
// @Success 200 {object} checkout.CaptureOutcome
// @Failure 404 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /checkout/capture [post]
func captureCheckoutHandler(svc checkoutAPI, v *validatorv10.Validate, m *metrics.Checkout) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CaptureRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		start := time.Now()
		out, err := svc.Capture(c.Request.Context(), req.ProviderOrderID)
		if m != nil {
			m.CaptureMS.Observe(float64(time.Since(start).Milliseconds()))
		}
		if err != nil {
			switch {
			case errors.Is(err, checkout.ErrOrderNotFound):
				httpx.Error(c, http.StatusNotFound, "order not found")
			case errors.Is(err, checkout.ErrOrderNotApproved):
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error(), "outcome": out})
			case errors.Is(err, checkout.ErrGatewayUnavailable):
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "outcome": out})
			case errors.Is(err, checkout.ErrInternalInconsistency):
				httpx.Error(c, http.StatusInternalServerError, err.Error())
			default:
				httpx.Error(c, http.StatusInternalServerError, "internal error")
			}
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// webhookHandler receives provider push events. The body is passed raw to
// signature verification; parsing happens only after the event verifies.
func webhookHandler(svc checkoutAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			httpx.Error(c, http.StatusBadRequest, "unreadable body")
			return
		}
		h := payment.WebhookHeaders{
			TransmissionID:   c.GetHeader("Paypal-Transmission-Id"),
			TransmissionTime: c.GetHeader("Paypal-Transmission-Time"),
			TransmissionSig:  c.GetHeader("Paypal-Transmission-Sig"),
			CertURL:          c.GetHeader("Paypal-Cert-Url"),
			AuthAlgo:         c.GetHeader("Paypal-Auth-Algo"),
		}
		if err := svc.ProcessWebhook(c.Request.Context(), raw, h); err != nil {
			if errors.Is(err, checkout.ErrSignatureInvalid) {
				httpx.Error(c, http.StatusBadRequest, "webhook not verified")
				return
			}
			httpx.Error(c, http.StatusInternalServerError, "webhook processing failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func listProductsHandler(repo catalog.Repository, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := repo.ListByKind(c.Request.Context(), kind)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func listByPriceHandler(repo catalog.Repository, ascending bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := repo.ListByPrice(c.Request.Context(), ascending)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func getProductHandler(repo catalog.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, sizes, err := repo.GetWithSizes(c.Request.Context(), c.Param("code"))
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				httpx.Error(c, http.StatusNotFound, "product not found")
				return
			}
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"product": p, "sizes": sizes})
	}
}

func orderHistoryHandler(orders order.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.GetString(session.CustomerKey)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		items, err := orders.ListByCustomer(c.Request.Context(), customerID, limit, offset)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func listContactsHandler(contacts contact.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		items, err := contacts.List(c.Request.Context(), limit, offset)
		if err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func contactHandler(contacts contact.Repository, v *validatorv10.Validate) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ContactRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		m := &contact.Message{Name: req.Name, Email: req.Email, Message: req.Message}
		if err := contacts.Create(c.Request.Context(), m); err != nil {
			httpx.Error(c, http.StatusInternalServerError, "internal error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "id": m.ID})
	}
}
