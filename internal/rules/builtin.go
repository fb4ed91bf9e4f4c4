package rules

import (
	"strings"
	"unicode/utf8"
)

// Rule ids referenced by the catalog and the generator.
const (
	MinLength                 = "minLength"
	UppercaseGlyphs           = "uppercaseGlyphs"
	SpecialGlyphs             = "specialGlyphs"
	DigitGlyphsSum            = "digitGlyphsSum"
	LowercaseGlyphs           = "lowercaseGlyphs"
	AtLeastXDigits            = "atLeastXDigits"
	LengthDivisibleBy         = "lengthDivisibleBy"
	MinUniqueGlyphs           = "minUniqueGlyphs"
	FirstLastSame             = "firstLastSame"
	LengthIsPrime             = "lengthIsPrime"
	EvenConsonants            = "evenConsonants"
	ContainsSubstring         = "containsSubstring"
	DigitGlyphsSumMultiple    = "digitGlyphsSumMultiple"
	StartDigitEndSpecial      = "startDigitEndSpecial"
	MoreVowelsThanConsonants  = "moreVowelsThanConsonants"
	LengthIsPerfectSquare     = "lengthIsPerfectSquare"
	MinDifferentSpecialGlyphs = "minDifferentSpecialGlyphs"
	EvenUppercaseOddDigits    = "evenUppercaseOddDigits"
	MoreConsonantsThanVowels  = "moreConsonantsThanVowels"
	RomanNumeralSum           = "romanNumeralSum"
	LengthIsFibonacci         = "lengthIsFibonacci"
)

// specialSet is the glyph class the game calls "special".
const specialSet = `!@#$%^&*(),.?":{}|<>`

func builtin() []Rule {
	return []Rule{
		{
			ID: MinLength,
			Validate: func(in string, p Params) bool {
				return length(in) >= p.Int("minLength", 0)
			},
		},
		{
			ID: UppercaseGlyphs,
			Validate: func(in string, p Params) bool {
				return count(in, isUpper) == p.Int("count", 0)
			},
			DisplayHint: "/[A-Z]/g",
		},
		{
			ID: SpecialGlyphs,
			Validate: func(in string, p Params) bool {
				return count(in, isSpecial) == p.Int("count", 0)
			},
			DisplayHint: `/[!@#$%^&*(),.?":{}|<>]/g`,
		},
		{
			ID: DigitGlyphsSum,
			Validate: func(in string, p Params) bool {
				return digitSum(in) == p.Int("sum", 0)
			},
			DisplayHint: `/\d/g`,
		},
		{
			ID: LowercaseGlyphs,
			Validate: func(in string, p Params) bool {
				return count(in, isLower) == p.Int("count", 0)
			},
			DisplayHint: "/[a-z]/g",
		},
		{
			ID: AtLeastXDigits,
			Validate: func(in string, p Params) bool {
				return count(in, isDigit) >= p.Int("count", 0)
			},
			DisplayHint: `/\d/`,
		},
		{
			ID: LengthDivisibleBy,
			Validate: func(in string, p Params) bool {
				return length(in)%p.Int("divisor", 1) == 0
			},
		},
		{
			ID: MinUniqueGlyphs,
			Validate: func(in string, p Params) bool {
				seen := make(map[rune]struct{})
				for _, r := range in {
					seen[r] = struct{}{}
				}
				return len(seen) >= p.Int("count", 0)
			},
		},
		{
			ID: FirstLastSame,
			Validate: func(in string, _ Params) bool {
				if in == "" {
					return false
				}
				first, _ := utf8.DecodeRuneInString(in)
				last, _ := utf8.DecodeLastRuneInString(in)
				return first == last
			},
		},
		{
			ID: LengthIsPrime,
			Validate: func(in string, _ Params) bool {
				return isPrime(length(in))
			},
		},
		{
			ID: EvenConsonants,
			Validate: func(in string, _ Params) bool {
				return count(in, isWordConsonant)%2 == 0
			},
		},
		{
			ID: ContainsSubstring,
			Validate: func(in string, p Params) bool {
				return strings.Contains(in, p.String("substring", ""))
			},
		},
		{
			ID: DigitGlyphsSumMultiple,
			Validate: func(in string, p Params) bool {
				return digitSum(in)%p.Int("multiple", 1) == 0
			},
		},
		{
			ID: StartDigitEndSpecial,
			Validate: func(in string, _ Params) bool {
				if length(in) < 2 {
					return false
				}
				first, _ := utf8.DecodeRuneInString(in)
				last, _ := utf8.DecodeLastRuneInString(in)
				return isDigit(first) && isSpecial(last)
			},
			DisplayHint: `/^\d.*[!@#$%^&*(),.?":{}|<>]$/`,
		},
		{
			ID: MoreVowelsThanConsonants,
			Validate: func(in string, _ Params) bool {
				return count(in, isVowel) > count(in, isConsonant)
			},
		},
		{
			ID: LengthIsPerfectSquare,
			Validate: func(in string, _ Params) bool {
				return isPerfectSquare(length(in))
			},
		},
		{
			ID: MinDifferentSpecialGlyphs,
			Validate: func(in string, p Params) bool {
				seen := make(map[rune]struct{})
				for _, r := range in {
					if isSpecial(r) {
						seen[r] = struct{}{}
					}
				}
				return len(seen) >= p.Int("count", 0)
			},
			DisplayHint: `/[!@#$%^&*(),.?":{}|<>]/g`,
		},
		{
			ID: EvenUppercaseOddDigits,
			Validate: func(in string, _ Params) bool {
				return count(in, isUpper)%2 == 0 && count(in, isDigit)%2 == 1
			},
		},
		{
			ID: MoreConsonantsThanVowels,
			Validate: func(in string, _ Params) bool {
				return count(in, isConsonant) > count(in, isVowel)
			},
		},
		{
			ID: RomanNumeralSum,
			Validate: func(in string, p Params) bool {
				total := 0
				for _, r := range strings.ToUpper(in) {
					total += romanValue[r]
				}
				return total == p.Int("sum", 0)
			},
		},
		{
			ID: LengthIsFibonacci,
			Validate: func(in string, _ Params) bool {
				n := length(in)
				return isPerfectSquare(5*n*n+4) || isPerfectSquare(5*n*n-4)
			},
		},
	}
}

var romanValue = map[rune]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50,
	'C': 100, 'D': 500, 'M': 1000,
}

func length(s string) int { return utf8.RuneCountInString(s) }

func count(s string, pred func(rune) bool) int {
	n := 0
	for _, r := range s {
		if pred(r) {
			n++
		}
	}
	return n
}

func digitSum(s string) int {
	sum := 0
	for _, r := range s {
		if isDigit(r) {
			sum += int(r - '0')
		}
	}
	return sum
}

func isUpper(r rune) bool   { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool   { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool   { return r >= '0' && r <= '9' }
func isSpecial(r rune) bool { return strings.ContainsRune(specialSet, r) }
func isVowel(r rune) bool   { return strings.ContainsRune("aeiouAEIOU", r) }

// isConsonant covers ASCII letters only.
func isConsonant(r rune) bool {
	return (isUpper(r) || isLower(r)) && !isVowel(r)
}

// isWordConsonant is any ASCII word character that is neither a vowel nor
// a digit, so the underscore counts.
func isWordConsonant(r rune) bool {
	return isConsonant(r) || r == '_'
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

func isPerfectSquare(n int) bool {
	if n < 0 {
		return false
	}
	r := 0
	for r*r < n {
		r++
	}
	return r*r == n
}
