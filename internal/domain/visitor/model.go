package visitor

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CookieName holds the browser's visitor id.
	CookieName = "php_visitor_id"
	// CookieMaxAge keeps the visitor id for a year.
	CookieMaxAge = 365 * 24 * time.Hour

	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"

	DefaultPath = "/"
)

// Visit is one visitor's first view of a page on a UTC day.
type Visit struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VisitorID string    `db:"visitor_id" json:"visitor_id"`
	Date      string    `db:"date" json:"date"`
	PagePath  string    `db:"page_path" json:"page_path"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// DailyCount is the number of distinct visitors on a date.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewVisitorID returns an id of the form visitor_<unix ms>_<9 base36 chars>.
func NewVisitorID(now time.Time) string {
	var sb strings.Builder
	for i := 0; i < 9; i++ {
		sb.WriteByte(base36[rand.Intn(len(base36))])
	}
	return fmt.Sprintf("visitor_%d_%s", now.UnixMilli(), sb.String())
}

// dedupKey identifies a visit for the fast-path de-duplication.
func dedupKey(v *Visit) string {
	return "visit:" + v.VisitorID + ":" + v.Date + ":" + v.PagePath
}
