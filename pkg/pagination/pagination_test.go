package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Values(t *testing.T) {
	p := FromContext(contextFor("/?limit=5&offset=10"))
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	p := FromContext(contextFor("/?limit=1000&offset=-3"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected negative offset to become 0, got %d", p.Offset)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0).WithNext("/api/v1/appointments")
	if !r.HasMore {
		t.Error("expected has_more")
	}
	if r.Next != "/api/v1/appointments?limit=2&offset=2" {
		t.Errorf("unexpected next link %q", r.Next)
	}

	last := NewResponse([]int{5}, 5, 2, 4).WithNext("/x")
	if last.HasMore || last.Next != "" {
		t.Errorf("expected last page without next link, got %+v", last)
	}
}

func TestParams_SQL(t *testing.T) {
	if got := (Params{Limit: 20, Offset: 40}).SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("unexpected SQL %q", got)
	}
}

func TestSlice(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	if got := Slice(items, Params{Limit: 2, Offset: 1}); len(got) != 2 || got[0] != "b" {
		t.Errorf("unexpected page %v", got)
	}
	if got := Slice(items, Params{Limit: 10, Offset: 3}); len(got) != 2 {
		t.Errorf("expected tail of 2, got %v", got)
	}
	if got := Slice(items, Params{Limit: 2, Offset: 9}); len(got) != 0 {
		t.Errorf("expected empty page, got %v", got)
	}
}
