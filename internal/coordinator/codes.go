package coordinator

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/rocketscienceinc/supertictactoe-backend/internal/apperror"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength   = 6
)

func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))] //nolint:gosec // room codes are not secrets
	}
	return string(code)
}

// NormalizeRoomCode uppercases a client-supplied code so lookups match
// generated codes.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(code)
}

// ValidateRoomCode checks the 6-character alphanumeric format. It does not
// check existence; that is the lookup's job.
func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return fmt.Errorf("%w: code must be %d characters", apperror.ErrInvalidRoomCode, roomCodeLength)
	}

	for _, ch := range code {
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return fmt.Errorf("%w: code must be alphanumeric", apperror.ErrInvalidRoomCode)
		}
	}

	return nil
}
