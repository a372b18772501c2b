package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type revokeTokenRequest struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id,omitempty"`
}

type revocationListResponse struct {
	Count   int              `json:"count"`
	Entries []RevocationInfo `json:"entries"`
	Blocked []BlockInfo      `json:"blocked"`
}

// RegisterRevocationRoutes registers token revocation endpoints. All of them
// require the admin role.
func RegisterRevocationRoutes(g *echo.Group, store *RevocationStore) {
	authGroup := g.Group("/auth", RequireRole(RoleAdmin))

	authGroup.POST("/revoke", handleRevokeToken(store))
	authGroup.GET("/revocations", handleListRevocations(store))
}

func handleRevokeToken(store *RevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req revokeTokenRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if req.JTI == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "jti is required")
		}
		if req.ExpiresAt.IsZero() {
			req.ExpiresAt = time.Now().Add(1 * time.Hour)
		}

		store.Revoke(req.JTI, req.UserID, req.ExpiresAt)
		return c.NoContent(http.StatusNoContent)
	}
}

func handleListRevocations(store *RevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		entries := store.Entries()
		return c.JSON(http.StatusOK, revocationListResponse{
			Count:   len(entries),
			Entries: entries,
			Blocked: store.Blocked(),
		})
	}
}
