package visitor

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts tracking on the public group and statistics on the
// admin group.
func (h *Handler) RegisterRoutes(public, admin *echo.Group) {
	public.POST("/visits", h.Track)

	admin.GET("/visits/stats", h.Stats)
	admin.GET("/visits/unique", h.Unique)
}

type trackRequest struct {
	Path      string `json:"path"`
	UserAgent string `json:"user_agent"`
}

// Track records a page visit. It always answers 204 so a tracking failure
// never breaks the page.
func (h *Handler) Track(c echo.Context) error {
	var req trackRequest
	if err := c.Bind(&req); err != nil {
		c.Logger().Warnf("decode visit: %v", err)
	}

	visitorID := ""
	if cookie, err := c.Cookie(CookieName); err == nil {
		visitorID = strings.TrimSpace(cookie.Value)
	}
	if visitorID == "" {
		visitorID = NewVisitorID(time.Now())
		c.SetCookie(&http.Cookie{
			Name:     CookieName,
			Value:    visitorID,
			Path:     "/",
			MaxAge:   int(CookieMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	ua := req.UserAgent
	if ua == "" {
		ua = c.Request().UserAgent()
	}
	if err := h.svc.Track(c.Request().Context(), visitorID, req.Path, ua); err != nil {
		c.Logger().Errorf("track page visit: %v", err)
	}
	return c.NoContent(http.StatusNoContent)
}

type statsResponse struct {
	Total int          `json:"total"`
	Today int          `json:"today"`
	Month string       `json:"month"`
	Days  []DailyCount `json:"days"`
}

func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	month := c.QueryParam("month")
	if month == "" {
		month = h.svc.Today()[:len(MonthLayout)]
	}
	if _, err := time.Parse(MonthLayout, month); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "month must be YYYY-MM")
	}

	total, err := h.svc.UniqueVisitorCount(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	today, err := h.svc.TodayUniqueVisitors(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	days, err := h.svc.MonthVisitStats(ctx, month)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, statsResponse{Total: total, Today: today, Month: month, Days: days})
}

func (h *Handler) Unique(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		date = h.svc.Today()
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	n, err := h.svc.UniqueVisitorsForDate(c.Request().Context(), date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": date, "count": n})
}
