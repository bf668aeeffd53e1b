package wallet

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	manager *Manager
	queries *QueryService
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(manager *Manager, queries *QueryService) *Handler {
	return &Handler{manager: manager, queries: queries}
}

type createRequest struct {
	Name string `json:"name"`
}

type memberRequest struct {
	Alias       *string       `json:"alias"`
	CreditLimit *money.Amount `json:"creditLimit"`
}

type amountRequest struct {
	Amount money.Amount `json:"amount"`
}

type walletResponse struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type summaryResponse struct {
	walletResponse
	Role        string  `json:"role"`
	Balance     string  `json:"balance"`
	Alias       string  `json:"alias,omitempty"`
	CreditLimit *string `json:"creditLimit"`
	CreditUsed  *string `json:"creditUsed"`
}

type memberResponse struct {
	MemberUID   string    `json:"memberUid"`
	Alias       string    `json:"alias"`
	CreditLimit *string   `json:"creditLimit"`
	CreditUsed  string    `json:"creditUsed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type detailResponse struct {
	walletResponse
	Balance string           `json:"balance"`
	Members []memberResponse `json:"members"`
}

var success = fiber.Map{"success": true}

func toWalletResponse(w Wallet) walletResponse {
	return walletResponse{UID: w.UID, Name: w.Name, OwnerID: w.OwnerID, CreatedAt: w.CreatedAt}
}

// List returns the wallets visible to the caller.
func (h *Handler) List(c *fiber.Ctx) error {
	summaries, err := h.queries.ListAccessible(c.UserContext(), auth.FromCtx(c))
	if err != nil {
		return err
	}
	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryResponse{
			walletResponse: toWalletResponse(s.Wallet),
			Role:           s.Role,
			Balance:        money.Format(s.Balance),
			Alias:          s.Alias,
			CreditLimit:    money.FormatPtr(s.CreditLimit),
			CreditUsed:     money.FormatPtr(s.CreditUsed),
		})
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Create provisions a wallet owned by the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return fiber.NewError(http.StatusBadRequest, "name is required")
	}
	w, err := h.manager.CreateWallet(c.UserContext(), auth.FromCtx(c), req.Name)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(w))
}

// Detail returns a wallet with its members.
func (h *Handler) Detail(c *fiber.Ctx) error {
	d, err := h.queries.Detail(c.UserContext(), auth.FromCtx(c), c.Params("walletUid"))
	if err != nil {
		return err
	}
	members := make([]memberResponse, 0, len(d.Members))
	for _, m := range d.Members {
		members = append(members, memberResponse{
			MemberUID:   m.MemberUID,
			Alias:       m.Alias,
			CreditLimit: money.FormatPtr(m.CreditLimit),
			CreditUsed:  money.Format(m.CreditUsed),
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(detailResponse{
		walletResponse: toWalletResponse(d.Wallet),
		Balance:        money.Format(d.Balance),
		Members:        members,
	})
}

// AddMember grants access to the member in the path.
func (h *Handler) AddMember(c *fiber.Ctx) error {
	req, limit, err := parseMemberRequest(c)
	if err != nil {
		return err
	}
	in := AddMemberInput{
		WalletUID:   c.Params("walletUid"),
		MemberUID:   c.Params("memberUid"),
		CreditLimit: limit,
	}
	if req.Alias != nil {
		in.Alias = *req.Alias
	}
	if _, err := h.manager.AddMember(c.UserContext(), auth.FromCtx(c), in); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(success)
}

// RemoveMember revokes access of the member in the path.
func (h *Handler) RemoveMember(c *fiber.Ctx) error {
	err := h.manager.RemoveMember(c.UserContext(), auth.FromCtx(c), c.Params("walletUid"), c.Params("memberUid"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(success)
}

// UpdateMember changes alias and credit limit.
func (h *Handler) UpdateMember(c *fiber.Ctx) error {
	req, limit, err := parseMemberRequest(c)
	if err != nil {
		return err
	}
	_, err = h.manager.UpdateMember(c.UserContext(), auth.FromCtx(c), UpdateMemberInput{
		WalletUID:   c.Params("walletUid"),
		MemberUID:   c.Params("memberUid"),
		Alias:       req.Alias,
		CreditLimit: limit,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(success)
}

// ResetCreditUsed zeroes the member's used credit.
func (h *Handler) ResetCreditUsed(c *fiber.Ctx) error {
	_, err := h.manager.UpdateMember(c.UserContext(), auth.FromCtx(c), UpdateMemberInput{
		WalletUID:       c.Params("walletUid"),
		MemberUID:       c.Params("memberUid"),
		ResetCreditUsed: true,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(success)
}

// Spend draws from the pooled balance.
func (h *Handler) Spend(c *fiber.Ctx) error {
	amount, err := parseAmount(c)
	if err != nil {
		return err
	}
	res, err := h.manager.Spend(c.UserContext(), auth.FromCtx(c), c.Params("walletUid"), amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"balance":    money.Format(res.Balance),
		"creditUsed": money.FormatPtr(res.CreditUsed),
	})
}

// Fund moves personal balance into the wallet.
func (h *Handler) Fund(c *fiber.Ctx) error {
	amount, err := parseAmount(c)
	if err != nil {
		return err
	}
	res, err := h.manager.Fund(c.UserContext(), auth.FromCtx(c), c.Params("walletUid"), amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"balance":         money.Format(res.Balance),
		"personalBalance": money.Format(res.PersonalBalance),
	})
}

// PersonalBalance returns the caller's own balance.
func (h *Handler) PersonalBalance(c *fiber.Ctx) error {
	balance, err := h.queries.PersonalBalance(c.UserContext(), auth.FromCtx(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"balance": money.Format(balance)})
}

func parseMemberRequest(c *fiber.Ctx) (memberRequest, *int64, error) {
	var req memberRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return memberRequest{}, nil, fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if req.CreditLimit == nil {
		return req, nil, nil
	}
	limit, err := req.CreditLimit.Minor()
	if err != nil {
		return memberRequest{}, nil, err
	}
	return req, &limit, nil
}

func parseAmount(c *fiber.Ctx) (int64, error) {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return req.Amount.Positive()
}
