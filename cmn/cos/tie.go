package cos

import "sync/atomic"

// Alphabet for tie-breaker suffixes: 64 URL- and filename-safe
// characters.
const tieABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var rtie atomic.Int32

// GenTie returns a short process-unique suffix used to disambiguate temp
// file names. It is not globally unique and not a UUID; batch correlation
// ids use github.com/google/uuid instead.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := tieABC[tie&0x3f]
	b1 := tieABC[-tie&0x3f]
	b2 := tieABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
