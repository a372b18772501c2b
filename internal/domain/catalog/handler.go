package catalog

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

// RegisterRoutes mounts the public catalog endpoint.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/catalog", h.GetCatalog)
}

type catalogResponse struct {
	Services []Service `json:"services"`
	Slots    Slots     `json:"slots"`
	AllSlots []string  `json:"all_slots"`
}

func (h *Handler) GetCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, catalogResponse{
		Services: h.catalog.Services,
		Slots:    h.catalog.Slots,
		AllSlots: h.catalog.AllSlots(),
	})
}
