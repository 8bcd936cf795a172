package utils

// Value dereferences v, returning the zero value when v is nil. Used when
// reading optional wire fields such as TokenResponse.RefreshToken.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// Ptr returns a pointer to v, for populating optional wire fields.
func Ptr[T any](v T) *T {
	return &v
}
