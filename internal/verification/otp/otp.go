// Package otp generates six digit one-time codes and stores them as Argon2id
// hashes so a leaked table does not leak live codes.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	Digits = 6

	argonTime    uint32 = 2
	argonMemory  uint32 = 19 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

var codeSpace = big.NewInt(1_000_000)

// Generator produces fresh codes.
type Generator interface {
	Generate() (string, error)
}

type randomGenerator struct{}

// Random draws codes uniformly from 000000-999999 using crypto/rand.
func Random() Generator { return randomGenerator{} }

func (randomGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}

// Fixed always returns the same codes in order, then repeats the last one.
type Fixed []string

func (f *Fixed) Generate() (string, error) {
	if len(*f) == 0 {
		return "", fmt.Errorf("otp: no fixed codes left")
	}
	code := (*f)[0]
	if len(*f) > 1 {
		*f = (*f)[1:]
	}
	return code, nil
}

// Hash returns the encoded Argon2id hash of code.
func Hash(code string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(code), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// Verify checks code against an encoded hash in constant time.
func Verify(code, encoded string) bool {
	code = strings.TrimSpace(code)
	if len(code) != Digits {
		// Malformed input still pays for a full hash.
		code = strings.Repeat("x", Digits)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return false
	}
	m, ok := strings.CutPrefix(params[0], "m=")
	if !ok {
		return false
	}
	t, ok := strings.CutPrefix(params[1], "t=")
	if !ok {
		return false
	}
	p, ok := strings.CutPrefix(params[2], "p=")
	if !ok {
		return false
	}
	memory, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return false
	}
	timeCost, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return false
	}
	threads, err := strconv.ParseUint(p, 10, 8)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(code), salt, uint32(timeCost), uint32(memory), uint8(threads), uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}
