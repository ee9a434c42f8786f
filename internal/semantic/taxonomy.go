package semantic

import "github.com/af-corp/sentinel-gate/internal/types"

// hazard is one entry of the Llama Guard 3 hazard taxonomy.
type hazard struct {
	Label    string
	Category types.Category
}

var hazards = map[string]hazard{
	"S1":  {"Violent Crimes", types.CategoryIllegal},
	"S2":  {"Non-Violent Crimes", types.CategoryIllegal},
	"S3":  {"Sex-Related Crimes", types.CategoryIllegal},
	"S4":  {"Child Sexual Exploitation", types.CategoryIllegal},
	"S5":  {"Defamation", types.CategoryMisinformation},
	"S6":  {"Specialized Advice", types.CategoryCustom},
	"S7":  {"Privacy", types.CategoryPII},
	"S8":  {"Intellectual Property", types.CategoryLicenseRisk},
	"S9":  {"Indiscriminate Weapons", types.CategoryMaliciousInstructions},
	"S10": {"Hate", types.CategoryCustom},
	"S11": {"Suicide & Self-Harm", types.CategoryCustom},
	"S12": {"Sexual Content", types.CategoryCustom},
	"S13": {"Elections", types.CategoryMisinformation},
	"S14": {"Code Interpreter Abuse", types.CategoryUnsafeCode},
}
