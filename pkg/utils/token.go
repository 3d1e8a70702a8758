package utils

import (
	"crypto/rand"
	"math/big"
)

// InviteCodeLength is the length of team invite codes
const InviteCodeLength = 6

const inviteAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateInviteCode returns a random upper-case alphanumeric team invite code
func GenerateInviteCode() (string, error) {
	max := big.NewInt(int64(len(inviteAlphabet)))
	code := make([]byte, InviteCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = inviteAlphabet[n.Int64()]
	}
	return string(code), nil
}
