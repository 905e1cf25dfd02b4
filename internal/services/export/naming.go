package export

import (
	"fmt"
	"time"
)

// ObjectName computes the deterministic, timestamp-partitioned object
// name for a run completing at t:
//
//	{prefix}/{yyyy}/{MM}/{dd}/benefits_{yyyyMMdd_HHmmss}.csv
//
// All components are UTC. Second resolution makes concurrent runs
// produce distinct names unless they complete within the same second,
// an accepted limitation rather than a guarded invariant.
func ObjectName(prefix string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/benefits_%s.csv",
		prefix,
		t.Format("2006/01/02"),
		t.Format("20060102_150405"))
}
