package visitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service tracks page visits and reports unique visitor counts.
type Service struct {
	visits Repository
	dedup  Deduper
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds the service. dedup may be nil, in which case every
// visit goes to the database.
func NewService(visits Repository, dedup Deduper, logger zerolog.Logger) *Service {
	return &Service{
		visits: visits,
		dedup:  dedup,
		logger: logger.With().Str("component", "visitor").Logger(),
		now:    time.Now,
	}
}

// Track records the first visit of visitorID to path on the current UTC
// date. Repeat visits are ignored.
func (s *Service) Track(ctx context.Context, visitorID, path, userAgent string) error {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return fmt.Errorf("visitor id is required")
	}
	if path = strings.TrimSpace(path); path == "" {
		path = DefaultPath
	}
	v := &Visit{
		VisitorID: visitorID,
		Date:      s.now().UTC().Format(DateLayout),
		PagePath:  path,
		UserAgent: userAgent,
	}

	key := dedupKey(v)
	claimed := false
	if s.dedup != nil {
		first, err := s.dedup.FirstSeen(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("visit dedup unavailable, falling back to database")
		case !first:
			return nil
		default:
			claimed = true
		}
	}

	inserted, err := s.visits.Insert(ctx, v)
	if err != nil {
		// Release the key so a retry records the visit.
		if claimed {
			if ferr := s.dedup.Forget(ctx, key); ferr != nil {
				s.logger.Warn().Err(ferr).Msg("release visit dedup key failed")
			}
		}
		return err
	}
	if inserted {
		s.logger.Debug().Str("visitor_id", visitorID).Str("path", path).Msg("page visit tracked")
	}
	return nil
}

// UniqueVisitorCount returns the number of distinct visitors ever seen.
func (s *Service) UniqueVisitorCount(ctx context.Context) (int, error) {
	return s.visits.CountUnique(ctx)
}

// UniqueVisitorsForDate returns the distinct visitors on date (YYYY-MM-DD).
func (s *Service) UniqueVisitorsForDate(ctx context.Context, date string) (int, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	return s.visits.CountUniqueOn(ctx, date)
}

func (s *Service) TodayUniqueVisitors(ctx context.Context) (int, error) {
	return s.visits.CountUniqueOn(ctx, s.Today())
}

// Today is the current UTC date.
func (s *Service) Today() string {
	return s.now().UTC().Format(DateLayout)
}

// MonthVisitStats returns per-day distinct visitors for month (YYYY-MM),
// ascending by date. An empty month means the current one.
func (s *Service) MonthVisitStats(ctx context.Context, month string) ([]DailyCount, error) {
	if month == "" {
		month = s.now().UTC().Format(MonthLayout)
	}
	start, err := time.Parse(MonthLayout, month)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
	}
	end := start.AddDate(0, 1, -1)
	days, err := s.visits.DailyUnique(ctx, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []DailyCount{}
	}
	return days, nil
}
