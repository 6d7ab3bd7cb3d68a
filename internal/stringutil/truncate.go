// Package stringutil provides small string helpers shared across packages.
package stringutil

// TruncateOutput truncates captured tool output to maxLen bytes for use in
// error messages. Output beyond the limit is replaced with a marker so that
// a misbehaving tool cannot flood logs or error chains.
func TruncateOutput(out []byte, maxLen int) string {
	if len(out) <= maxLen {
		return string(out)
	}
	return string(out[:maxLen]) + "... (truncated)"
}
