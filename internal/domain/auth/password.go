package auth

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidCredentials is returned when a username/password pair does not
// match a stored user.
var ErrInvalidCredentials = errors.New("invalid credentials")

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword returns an Argon2id hash of the password in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// VerifyPassword verifies a password against a stored PHC-format hash.
// Returns (true, nil) on match, (false, nil) on mismatch.
func VerifyPassword(password, storedHash string) (bool, error) {
	return safeArgon2idCompare(password, storedHash)
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g., t=0 rounds); those become errors here so
// credential checks never panic.
func safeArgon2idCompare(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}
