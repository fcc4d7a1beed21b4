// Package urlpath pulls typed values out of request paths and queries.
package urlpath

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/ts4z/cyclepot/he"
	"github.com/ts4z/cyclepot/model"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var archiveNameRE = regexp.MustCompile(`^scores_\d{2}-\d{2}-\d{4}_to_\d{2}-\d{2}-\d{4}$`)

// AddressPathValue is the normalized {address} path variable.
func AddressPathValue(r *http.Request) (string, error) {
	a := model.NormalizeAddress(r.PathValue("address"))
	if a == "" {
		return "", he.HTTPCodedErrorf(http.StatusBadRequest, "missing address in url path")
	}
	return a, nil
}

// CycleNamePathValue is the {name} path variable, which must look like an
// archive name.
func CycleNamePathValue(r *http.Request) (string, error) {
	name := r.PathValue("name")
	if !archiveNameRE.MatchString(name) {
		return "", he.HTTPCodedErrorf(http.StatusBadRequest, "bad cycle name %q", name)
	}
	return name, nil
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse %s=%q", key, s)
	}
	return v, nil
}

// Page reads ?offset= and ?limit=, clamping limit to 1..MaxLimit.
func Page(r *http.Request) (offset, limit int, err error) {
	if offset, err = intQuery(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = intQuery(r, "limit", DefaultLimit); err != nil {
		return 0, 0, err
	}
	limit = min(max(limit, 1), MaxLimit)
	return offset, limit, nil
}
