package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kittybank/kitty/internal/wallet"
)

// RegisterWalletRoutes wires shared wallet and personal balance endpoints.
// Money-moving routes go through the idempotency middleware.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotent fiber.Handler) {
	r.Get("/me/balance", h.PersonalBalance)

	r.Get("/wallets", h.List)
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletUid", h.Detail)

	members := r.Group("/wallets/:walletUid/members/:memberUid")
	members.Post("", h.AddMember)
	members.Put("", h.UpdateMember)
	members.Delete("", h.RemoveMember)
	members.Patch("/reset-credit-used", h.ResetCreditUsed)

	r.Post("/wallets/:walletUid/spend", idempotent, h.Spend)
	r.Post("/wallets/:walletUid/fund", idempotent, h.Fund)
}
