package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hpconf/hpconf/pkg/schema"
	"github.com/hpconf/hpconf/pkg/section"
)

// nextID returns the identifier of a new section of st: the type name for
// singletons, otherwise "<prefix>_<n>" with n one past the highest number in
// use. Identifiers still named by dangling references are skipped so a new
// section never silently satisfies a stale reference.
func nextID(st *schema.SectionType, snap *section.Snapshot, taken map[string]bool) string {
	if st.Singleton {
		return st.Name
	}

	prefix := st.Prefix + "_"
	highest := 0
	for _, id := range snap.IDs(st.Name) {
		if n, ok := idNumber(prefix, id); ok && n > highest {
			highest = n
		}
	}

	for n := highest + 1; ; n++ {
		id := fmt.Sprintf("%s%d", prefix, n)
		if _, exists := snap.Section(st.Name, id); exists || taken[id] {
			continue
		}
		return id
	}
}

func idNumber(prefix, id string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
