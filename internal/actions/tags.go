package actions

import (
	"strconv"
	"strings"

	"github.com/you/streamrig/internal/core"
)

// ExpandTags replaces %user* and %targetName tags with values from user.
// Unknown tags are left as they are.
func ExpandTags(text string, user core.User) string {
	if !strings.Contains(text, "%") {
		return text
	}
	r := strings.NewReplacer(
		"%userBitsTotal", strconv.Itoa(user.BitsTotal),
		"%userBits", strconv.Itoa(user.Bits),
		"%userId", user.ID,
		"%userLogin", user.Login,
		"%userName", user.Name,
		"%userInput", user.Input,
		"%userColor", user.Color,
		"%userTag", "@"+user.Name,
		"%targetName", targetName(user.Input),
	)
	return r.Replace(text)
}

// targetName is the first @mention in the input, without the @.
func targetName(input string) string {
	for _, word := range strings.Fields(input) {
		if len(word) > 1 && word[0] == '@' {
			return strings.TrimRight(word[1:], ".,!?:;")
		}
	}
	return ""
}
