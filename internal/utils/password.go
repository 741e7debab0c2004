package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes a profile password for storage in
// profiles.password_hash.
func HashPassword(plain string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches a stored profile hash.
// Login treats a mismatch and an unknown email the same way.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
