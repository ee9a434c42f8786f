package types

// Category is a risk kind reported by a detector.
type Category string

const (
	CategoryJailbreak             Category = "jailbreak_attempt"
	CategoryPromptInjection       Category = "prompt_injection"
	CategoryMaliciousInstructions Category = "malicious_instructions"
	CategorySecrets               Category = "secrets"
	CategoryPII                   Category = "personal_information"
	CategoryIllegal               Category = "illegal_activities"
	CategoryMisinformation        Category = "misinformation"
	CategoryUnsafeCode            Category = "unsafe_code"
	CategoryLicenseRisk           Category = "license_risk"
	CategoryObfuscation           Category = "obfuscation"
	CategoryCustom                Category = "custom"
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{
	CategoryJailbreak,
	CategoryPromptInjection,
	CategoryMaliciousInstructions,
	CategorySecrets,
	CategoryPII,
	CategoryIllegal,
	CategoryMisinformation,
	CategoryUnsafeCode,
	CategoryLicenseRisk,
	CategoryObfuscation,
	CategoryCustom,
}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, bool) {
	for _, c := range AllCategories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Severity ranks categories for tie-breaking between simultaneous findings.
func (c Category) Severity() int {
	switch c {
	case CategoryJailbreak, CategoryPromptInjection, CategoryMaliciousInstructions, CategoryIllegal:
		return 4
	case CategorySecrets:
		return 3
	case CategoryUnsafeCode:
		return 2
	case CategoryObfuscation, CategoryLicenseRisk, CategoryPII:
		return 1
	default:
		return 0
	}
}

// Risk is the tier a flagged finding of this category maps to.
func (c Category) Risk() RiskTier {
	switch c.Severity() {
	case 4, 3:
		return RiskHigh
	case 2, 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Level is the configured strictness passed to external classifiers.
type Level string

const (
	LevelStrict     Level = "strict"
	LevelModerate   Level = "moderate"
	LevelPermissive Level = "permissive"
)

func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelStrict, LevelModerate, LevelPermissive:
		return Level(s), true
	default:
		return "", false
	}
}

// Direction says whether scanned text is going into a model or coming out of one.
type Direction string

const (
	DirectionPrompt Direction = "prompt"
	DirectionOutput Direction = "output"
)

func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionPrompt, DirectionOutput:
		return Direction(s), true
	default:
		return "", false
	}
}
