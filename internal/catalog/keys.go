package catalog

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	refPattern     = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)
	summaryIDRegex = regexp.MustCompile(`/pokemon/(\d+)/?$`)
)

func listKey(limit, offset int) string {
	return fmt.Sprintf("list:%d:%d", limit, offset)
}

// detailsKey uses the reference as given: "25" and "pikachu" are distinct keys
func detailsKey(ref string) string {
	return "details:" + ref
}

func validateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("%w: %q is not a valid id or name", ErrInvalidArgument, ref)
	}
	return nil
}

// parseSummaryID extracts the trailing numeric id of a resource URL; 0 if absent
func parseSummaryID(resourceURL string) int {
	m := summaryIDRegex.FindStringSubmatch(resourceURL)
	if m == nil {
		return 0
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
