package helpers

// MaskValue is the default mask used for sensitive fields
const MaskValue = "***********"

// revealedSuffix is how many trailing characters of a long key stay visible.
const revealedSuffix = 4

// MaskKey hides a credential, keeping its last characters when the key is
// long enough for them not to give it away.
func MaskKey(key string) string {
	if len(key) < 4*revealedSuffix {
		return MaskValue
	}
	return MaskValue + key[len(key)-revealedSuffix:]
}
