package redemption

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/money"
)

// Handler exposes redemption HTTP endpoints.
type Handler struct {
	registry *Registry
	engine   *Engine
	now      func() time.Time
}

// NewHandler builds a redemption HTTP handler.
func NewHandler(registry *Registry, engine *Engine) *Handler {
	return &Handler{registry: registry, engine: engine, now: time.Now}
}

type createRequest struct {
	Amount    money.Amount `json:"amount"`
	Remark    *string      `json:"remark"`
	ExpiredAt *time.Time   `json:"expiredAt"`
}

type createResponse struct {
	Code      string       `json:"code"`
	Amount    money.Amount `json:"amount"`
	Remark    *string      `json:"remark"`
	ExpiredAt *time.Time   `json:"expiredAt"`
}

type codeResponse struct {
	Code       string       `json:"code"`
	Amount     money.Amount `json:"amount"`
	Remark     *string      `json:"remark"`
	ExpiredAt  *time.Time   `json:"expiredAt"`
	Redeemed   bool         `json:"redeemed"`
	RedeemedBy *string      `json:"redeemedBy"`
	RedeemedAt *time.Time   `json:"redeemedAt"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
}

type redeemRequest struct {
	Code string `json:"code"`
}

// List returns all codes to administrators.
func (h *Handler) List(c *fiber.Ctx) error {
	codes, err := h.registry.ListAll(c.UserContext(), auth.FromCtx(c))
	if err != nil {
		return err
	}
	now := h.now()
	out := make([]codeResponse, 0, len(codes))
	for _, code := range codes {
		out = append(out, codeResponse{
			Code:       code.Code,
			Amount:     money.FromMinor(code.Amount),
			Remark:     code.Remark,
			ExpiredAt:  code.ExpiredAt,
			Redeemed:   code.Redeemed,
			RedeemedBy: code.RedeemedBy,
			RedeemedAt: code.RedeemedAt,
			Status:     code.Status(now),
			CreatedAt:  code.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Create issues a new code. Non-administrators are refused before the body
// is looked at.
func (h *Handler) Create(c *fiber.Ctx) error {
	p := auth.FromCtx(c)
	if err := CanIssue(p); err != nil {
		return err
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := req.Amount.Positive()
	if err != nil {
		return err
	}
	code, err := h.registry.Create(c.UserContext(), p, CreateInput{
		Amount:    amount,
		ExpiredAt: req.ExpiredAt,
		Remark:    req.Remark,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(createResponse{
		Code:      code.Code,
		Amount:    money.FromMinor(code.Amount),
		Remark:    code.Remark,
		ExpiredAt: code.ExpiredAt,
	})
}

// Redeem credits the caller's personal balance with the code's amount.
func (h *Handler) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if NormalizeCode(req.Code) == "" {
		return fiber.NewError(http.StatusBadRequest, "code is required")
	}
	balance, err := h.engine.Redeem(c.UserContext(), auth.FromCtx(c), req.Code)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": money.Format(balance)})
}
