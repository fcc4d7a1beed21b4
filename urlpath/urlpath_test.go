package urlpath

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ts4z/cyclepot/he"
)

func TestCycleNamePathValue(t *testing.T) {
	for _, tc := range []struct {
		name string
		ok   bool
	}{
		{"scores_05-01-2025_to_12-01-2025", true},
		{"scores_5-1-2025_to_12-01-2025", false},
		{"users", false},
		{"", false},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetPathValue("name", tc.name)
		_, err := CycleNamePathValue(r)
		if (err == nil) != tc.ok {
			t.Errorf("%q: err = %v", tc.name, err)
		}
		if err != nil && he.Code(err) != http.StatusBadRequest {
			t.Errorf("%q: code %d", tc.name, he.Code(err))
		}
	}
}

func TestAddressPathValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetPathValue("address", "0xABC")
	if a, err := AddressPathValue(r); err != nil || a != "0xabc" {
		t.Errorf("got %q, %v", a, err)
	}
	r.SetPathValue("address", " ")
	if _, err := AddressPathValue(r); err == nil {
		t.Error("blank address accepted")
	}
}

func TestPage(t *testing.T) {
	for _, tc := range []struct {
		query         string
		offset, limit int
		ok            bool
	}{
		{"", 0, DefaultLimit, true},
		{"?offset=40&limit=10", 40, 10, true},
		{"?limit=0", 0, 1, true},
		{"?limit=5000", 0, MaxLimit, true},
		{"?offset=-1", 0, 0, false},
		{"?limit=ten", 0, 0, false},
	} {
		offset, limit, err := Page(httptest.NewRequest(http.MethodGet, "/api/history"+tc.query, nil))
		if (err == nil) != tc.ok {
			t.Errorf("%q: err = %v", tc.query, err)
			continue
		}
		if tc.ok && (offset != tc.offset || limit != tc.limit) {
			t.Errorf("%q: got %d,%d want %d,%d", tc.query, offset, limit, tc.offset, tc.limit)
		}
	}
}
