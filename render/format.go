package render

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// FormatKeySlots renders a secure element's key-slot table for operator
// debugging in the CLI harness. It is not part of the on-device review
// path — only cmd/airgapsim calls it — and mirrors the "group large runs,
// call out zeros" presentation a PCR-value formatter uses: slots holding a
// real public key are listed individually in hex, while empty or
// all-zero slots are collapsed into one line rather than printed one at a
// time.
func FormatKeySlots(slots map[string][]byte, title string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n%s:\n", title))

	if len(slots) == 0 {
		sb.WriteString("    (no key slots provisioned)\n")
		return sb.String()
	}

	ids := make([]string, 0, len(slots))
	for id := range slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var empty []string
	for _, id := range ids {
		pub := slots[id]
		if len(pub) == 0 || isAllZeros(pub) {
			empty = append(empty, id)
			continue
		}
		sb.WriteString(fmt.Sprintf("    slot[%s]: %s\n", id, hex.EncodeToString(pub)))
	}

	switch len(empty) {
	case 0:
	case 1:
		sb.WriteString(fmt.Sprintf("    slot[%s]: (empty)\n", empty[0]))
	default:
		sb.WriteString(fmt.Sprintf("    slots %s: (empty)\n", strings.Join(empty, ", ")))
	}

	return sb.String()
}

func isAllZeros(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
