package component

// Helpers shared across test files in this package.

// intPtr returns a pointer to i, for optional schema bounds like
// Minimum and Maximum.
func intPtr(i int) *int {
	return &i
}
