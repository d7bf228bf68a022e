package usercontext

import "github.com/gofiber/fiber/v2"

// AccountContext represents the authenticated account of a request
type AccountContext struct {
	AccountID       uint   `json:"account_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsAdmin         bool   `json:"is_admin"`
	IsSubAccount    bool   `json:"is_sub_account"`
}

// GetAccountContext retrieves the account context from fiber context
// Returns an anonymous context if none is set
func GetAccountContext(c *fiber.Ctx) AccountContext {
	if ctx, ok := c.Locals(KeyContext).(AccountContext); ok {
		return ctx
	}
	return AccountContext{}
}

// IsAuthenticated checks if the request carried a valid API key
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetAccountContext(c).IsAuthenticated
}

// GetAccountID returns the current account's ID, or 0 if anonymous
func GetAccountID(c *fiber.Ctx) uint {
	return GetAccountContext(c).AccountID
}
