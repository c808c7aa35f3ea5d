package checksum

// ============================================================================
// Control digit calculation
// Responsibility: compute the check character of a land-register identifier
// ============================================================================

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Alphabet maps each identifier character to its numeric value (its index).
const Alphabet = "0123456789XABCDEFGHIJKLMNOPRSTUWYZ"

// ErrInvalidCharacter is returned when an input character is not in Alphabet.
var ErrInvalidCharacter = errors.New("checksum: character not in alphabet")

var weights = [3]int{1, 3, 7}

// ControlDigit computes the control character for department + zero-padded number.
//
// Algorithm:
//   - concatenate department and number
//   - value of each character = its index in Alphabet
//   - weights cycle 1, 3, 7
//   - result = Alphabet[sum(value*weight) mod 10]
//
// The result is always one of '0'..'9'.
func ControlDigit(department, number string) (byte, error) {
	full := department + number
	sum := 0
	for i := 0; i < len(full); i++ {
		v := strings.IndexByte(Alphabet, full[i])
		if v < 0 {
			return 0, fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, full[i], i)
		}
		sum += v * weights[i%len(weights)]
	}
	return Alphabet[sum%10], nil
}

// BookID builds the identifier for a department and sequence number with its
// control digit filled in.
func BookID(department types.DepartmentCode, number int) (types.BookID, error) {
	id := types.BookID{Department: department, Number: number}
	c, err := ControlDigit(string(department), id.NumberString())
	if err != nil {
		return types.BookID{}, err
	}
	id.Control = c
	return id, nil
}

// Verify reports whether id carries the correct control digit.
func Verify(id types.BookID) bool {
	c, err := ControlDigit(string(id.Department), id.NumberString())
	return err == nil && c == id.Control
}
