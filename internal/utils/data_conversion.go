package utils

// Helper functions
func StringPtr(s string) *string {
	return &s
}

func StringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NonEmptyPtr returns nil for an empty string.
func NonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
