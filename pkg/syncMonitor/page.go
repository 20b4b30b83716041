package syncMonitor

// Page returns the 1-based page of list holding size items. Out of range
// pages and non-positive arguments yield an empty slice. The result never
// aliases list.
func Page[T any](list []T, page, size int) []T {
	if page < 1 || size < 1 {
		return []T{}
	}
	start := (page - 1) * size
	if start < 0 || start >= len(list) || start/size != page-1 {
		return []T{}
	}
	end := start + size
	if end > len(list) || end < start {
		end = len(list)
	}
	out := make([]T, end-start)
	copy(out, list[start:end])
	return out
}

// PageCount returns how many pages of size the list fills
func PageCount(total, size int) int {
	if size < 1 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
