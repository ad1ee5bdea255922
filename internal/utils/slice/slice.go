package slice

// Contains checks if a string exists in a string slice
func Contains(slice []string, str string) bool {
	for _, item := range slice {
		if item == str {
			return true
		}
	}
	return false
}

// AppendUnique appends str unless it is already present, preserving order.
func AppendUnique(slice []string, str string) []string {
	if Contains(slice, str) {
		return slice
	}
	return append(slice, str)
}

// Dedupe returns the slice with later duplicates removed, order preserved.
func Dedupe(slice []string) []string {
	seen := make(map[string]struct{}, len(slice))
	out := make([]string, 0, len(slice))
	for _, item := range slice {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
