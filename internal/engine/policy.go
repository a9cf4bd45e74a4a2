package engine

import (
	"regexp"
	"strconv"

	"github.com/d3sk-io/d3sk/pkg/protocol"
)

var queryNumberRe = regexp.MustCompile(`\d+`)

// IsBreach reports whether the query names a number of days exceeding the
// thread's learned policy threshold. False when no threshold has been
// learned or the query contains no digits. Pure function, no side effects.
func IsBreach(st protocol.ConversationState, query string) bool {
	if st.PolicyThresholdDays == nil {
		return false
	}

	max := -1
	for _, m := range queryNumberRe.FindAllString(query, -1) {
		n, err := strconv.Atoi(m)
		if err != nil {
			// Digit runs longer than an int; treat as unbounded.
			return true
		}
		if n > max {
			max = n
		}
	}
	return max > *st.PolicyThresholdDays
}
