// Package imei expands an 8 digit TAC into IMEIs the FUS server accepts.
package imei

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/request"
)

// MaxAttempts is how many generated IMEIs Validate tries.
const MaxAttempts = 5

// LuhnDigit returns the check digit that completes digits.
func LuhnDigit(digits string) int {
	digits += "0"
	parity := len(digits) % 2
	s := 0
	for idx, char := range digits {
		d := int(char - '0')
		if idx%2 == parity {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		s += d
	}
	return (10 - (s % 10)) % 10
}

// Valid reports whether s is 15 digits with a correct check digit.
func Valid(s string) bool {
	if len(s) != 15 || strings.Trim(s, "0123456789") != "" {
		return false
	}
	return LuhnDigit(s[:14]) == int(s[14]-'0')
}

// Generate returns n IMEIs with the given TAC.
func Generate(rng *rand.Rand, tac string, n int) []string {
	firstDigitChoices := []int{0, 5, 7}
	thirdDigitChoices := []int{0, 1, 3, 5, 6, 7}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("%s%d%d%d%d%02d", tac,
			firstDigitChoices[rng.Intn(len(firstDigitChoices))],
			rng.Intn(6)+4,
			thirdDigitChoices[rng.Intn(len(thirdDigitChoices))],
			rng.Intn(10),
			rng.Intn(100),
		)
		out = append(out, fmt.Sprintf("%s%d", body, LuhnDigit(body)))
	}
	return out
}

// Validator probes generated IMEIs against the server.
type Validator struct {
	Resolver *request.Resolver
	Rand     *rand.Rand
	Log      *slog.Logger
}

// Expand returns an IMEI for tac that the server accepts for q. A 15 digit
// input is only checked for its Luhn digit.
func (v *Validator) Expand(ctx context.Context, tac string, q request.Query) (string, error) {
	switch len(tac) {
	case 15:
		if !Valid(tac) {
			return "", fmt.Errorf("%w: IMEI %s has a wrong check digit", fuserr.ErrInvalidArgument, tac)
		}
		return tac, nil
	case 8:
	default:
		return "", fmt.Errorf("%w: IMEI must have 8 or 15 digits", fuserr.ErrInvalidArgument)
	}
	if strings.Trim(tac, "0123456789") != "" {
		return "", fmt.Errorf("%w: IMEI must be numeric", fuserr.ErrInvalidArgument)
	}

	log := v.Log
	if log == nil {
		log = slog.Default()
	}
	rng := v.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		candidate := Generate(rng, tac, 1)[0]
		q.IMEISerial = candidate
		_, err := v.Resolver.Resolve(ctx, q)
		var mismatch *fuserr.VersionMismatchError
		if err == nil || errors.As(err, &mismatch) {
			log.Info("valid IMEI found", "attempt", attempt, "imei", candidate)
			return candidate, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Debug("IMEI rejected", "attempt", attempt, "imei", candidate, "error", err)
	}
	return "", fmt.Errorf("unable to find a valid IMEI after %d tries", MaxAttempts)
}
