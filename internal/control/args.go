package control

import "strings"

// mergeArgs flattens argument sources in precedence order (defaults first,
// caller overrides last). When two sources set the same flag, the later
// source's values win but the flag keeps its first-seen position, so the
// merged list is stable across launches.
func mergeArgs(sources ...[]string) []string {
	type entry struct {
		flag   string
		tokens []string
	}
	var order []*entry
	index := map[string]*entry{}

	for _, source := range sources {
		i := 0
		for i < len(source) {
			token := source[i]
			if !strings.HasPrefix(token, "-") {
				// positional token, never merged
				order = append(order, &entry{tokens: []string{token}})
				i++
				continue
			}
			tokens := []string{token}
			j := i + 1
			for j < len(source) && !strings.HasPrefix(source[j], "-") {
				tokens = append(tokens, source[j])
				j++
			}
			flag := token
			if eq := strings.IndexByte(token, '='); eq >= 0 {
				flag = token[:eq]
			}
			if existing, ok := index[flag]; ok {
				existing.tokens = tokens
			} else {
				e := &entry{flag: flag, tokens: tokens}
				index[flag] = e
				order = append(order, e)
			}
			i = j
		}
	}

	var out []string
	for _, e := range order {
		out = append(out, e.tokens...)
	}
	return out
}
