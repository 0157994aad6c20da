package providers

// ChooseModel selects the model to use based on priority:
// 1. Request model (if the caller set one on the Request)
// 2. Config model (if specified in provider configuration)
// 3. Default model (provider-specific default)
func ChooseModel(requested, configured, fallback string) string {
	if requested != "" {
		return requested
	}
	if configured != "" {
		return configured
	}
	return fallback
}
