package wbot

import (
	"strconv"
	"strings"
)

// ParseChoice reads the first whitespace-delimited token of a reply as
// a 1-based menu index. Valid iff it parses as an integer in [1, n].
// The same name-ordered queue list must back both the presented menu
// and this validation, or the confirmation names the wrong department.
func ParseChoice(body string, n int) (int, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || n <= 0 {
		return 0, false
	}
	choice, err := strconv.Atoi(fields[0])
	if err != nil || choice < 1 || choice > n {
		return 0, false
	}
	return choice, true
}
