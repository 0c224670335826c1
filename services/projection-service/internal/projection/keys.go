package projection

import "time"

// Compound-key scheme for the work-order read model. The partition key
// groups rows by owning org; the sort key embeds status and creation time
// so both "all work orders for org X" and "org X work orders in status S,
// time-ordered" are single prefix scans, no secondary index.
//
//	partition_key = ORG#<orgId>
//	sort_key      = STATUS#<status>#TS#<createdAt>#WO#<workOrderId>
//
// Because status is a key component, a status transition is a delete of the
// old key plus an insert of the new one, never an in-place update.

// PartitionKey returns the partition key for an owning org.
func PartitionKey(orgID string) string {
	return "ORG#" + orgID
}

// SortKey returns the full sort key for a work order. createdAt is
// normalized to second-precision UTC so equal-width keys sort by time and
// both sides of a status migration derive the identical timestamp
// component from any payload.
func SortKey(status string, createdAt time.Time, workOrderID string) string {
	return StatusPrefix(status) + "TS#" + normalizeTimestamp(createdAt) + "#WO#" + workOrderID
}

// StatusPrefix returns the sort-key prefix selecting one status, for
// prefix scans.
func StatusPrefix(status string) string {
	return "STATUS#" + status + "#"
}

func normalizeTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
