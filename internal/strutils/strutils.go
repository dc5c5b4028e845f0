// Package strutils has small string-slice helpers shared across packages.
package strutils

// StrListContains looks for a string in a list of strings.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// RemoveDuplicatesStable removes duplicate and empty elements from a slice
// of strings, preserving order.
func RemoveDuplicatesStable(items []string) []string {
	itemsMap := make(map[string]bool, len(items))
	deduplicated := make([]string, 0, len(items))

	for _, item := range items {
		if item == "" || itemsMap[item] {
			continue
		}
		itemsMap[item] = true
		deduplicated = append(deduplicated, item)
	}
	return deduplicated
}
