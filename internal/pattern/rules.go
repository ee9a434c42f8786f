package pattern

import (
	"regexp"

	"github.com/af-corp/sentinel-gate/internal/types"
)

// Rule is one detection pattern inside a check.
type Rule struct {
	Name  string
	Regex *regexp.Regexp
}

// Check is one category's pattern set. The first matching rule decides the
// reported reason.
type Check struct {
	Name       string
	Category   types.Category
	Confidence float64
	Method     string
	Reason     string
	Rules      []Rule
}

func rules(patterns ...string) []Rule {
	out := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, Rule{Name: p, Regex: regexp.MustCompile(p)})
	}
	return out
}

// DefaultChecks returns the built-in checks in declaration order.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:       "jailbreak",
			Category:   types.CategoryJailbreak,
			Confidence: 0.9,
			Method:     "regex:jailbreak",
			Reason:     "Detected jailbreak phrasing in comments/strings.",
			Rules: rules(
				`(?i)ignore (previous|prior|above|earlier) (instructions|prompt|directives)`,
				`(?i)disregard (your|previous|prior) (instructions|programming|guidelines|training)`,
				`(?i)(pretend|role[- ]?play|imagine).*?(you are|you're).*(unfiltered|jailbroken|no rules|no restrictions)`,
				`(?i)(output|print|show|tell me) (your|the) (system prompt|instructions|guidelines)`,
				`(?i)from now on you (must|shall|will|should)`,
				`\bDAN\b|(?i:\b(?:uncensored|unethical|immoral)\b)`,
				`(?i)\b(developer|debug|god) mode (enabled|activated|on)\b`,
			),
		},
		{
			Name:       "injection",
			Category:   types.CategoryPromptInjection,
			Confidence: 0.9,
			Method:     "regex:injection",
			Reason:     "Detected prompt-injection attempt in comments/strings.",
			Rules: rules(
				`(?i)new instructions\s*:`,
				`(?i)your new (instructions|prompt|directive)\s*:`,
				`(?i)<(system|user|assistant)>`,
				`(?i)\b(system|user|assistant)\s*:\s*`,
				"(?i)```system",
			),
		},
		{
			Name:       "secrets",
			Category:   types.CategorySecrets,
			Confidence: 0.95,
			Method:     "regex:secrets",
			Reason:     "Potential secret/credential detected.",
			Rules: rules(
				`-----BEGIN (?:RSA|DSA|EC|OPENSSH) PRIVATE KEY-----`,
				`AKIA[0-9A-Z]{16}`,
				`(?i)aws(.{0,20})?(secret|access)[^a-zA-Z0-9]?key(.{0,3})?[:=]\s*[A-Za-z0-9/+=]{20,}`,
				`"type"\s*:\s*"service_account"`,
				`"private_key"\s*:\s*"\-+BEGIN PRIVATE KEY\-+`,
				`(?i)azure(.{0,20})?(client|tenant|subscription).*[:=].{5,}`,
				`eyJ[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}\.[A-Za-z0-9_\-]{10,}`,
				`(?i)bearer\s+[A-Za-z0-9\.\-_~\+\/]{20,}`,
				`(?i)(xox[baprs]-[A-Za-z0-9\-]{10,})`,
				`(?i)(sk_live_[A-Za-z0-9]{16,})`,
				`ghp_[A-Za-z0-9]{36}`,
				`sk-ant-[A-Za-z0-9\-_]{20,}`,
			),
		},
		{
			Name:       "unsafe",
			Category:   types.CategoryUnsafeCode,
			Confidence: 0.85,
			Method:     "regex:unsafe_code",
			Reason:     "Detected potentially unsafe API usage.",
			Rules: rules(
				`\beval\s*\(`,
				`\bexec\s*\(`,
				`\bcompile\s*\([^,]+,\s*['"]exec['"]\)`,
				`\bpickle\.loads?\s*\(`,
				`\byaml\.load\s*\(`,
				`\bsubprocess\.Popen\s*\(.*shell\s*=\s*True`,
				`\bos\.system\s*\(`,
				`\bmarshal\.loads\s*\(`,
				`\bctypes\.CDLL\s*\(`,
				`\bdill\.loads\s*\(`,
				`\bFunction\s*\(`,
				`\bchild_process\.exec\s*\(`,
				`\bObjectInputStream\b`,
				`\bbinaryFormatter\b`,
				`\bXMLDecoder\b`,
			),
		},
		{
			Name:       "obfuscation",
			Category:   types.CategoryObfuscation,
			Confidence: 0.8,
			Method:     "regex:obfuscation",
			Reason:     "Detected obfuscation/encoding or invisible characters.",
			Rules: rules(
				`[A-Za-z0-9+/]{80,}={0,2}`,
				`(?:\\x[0-9a-fA-F]{2}){16,}`,
				`(?:[01]{8}\s*){16,}`,
				`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{2064}\x{FEFF}]`,
				`[А-Яа-яЁёΑ-Ωα-ω]`,
			),
		},
		{
			Name:       "malicious",
			Category:   types.CategoryMaliciousInstructions,
			Confidence: 0.85,
			Method:     "regex:malicious",
			Reason:     "Detected hacking/malicious instruction phrase.",
			Rules: rules(
				`(?i)\b(hack|break) into\b`,
				`(?i)\bexploit (a|the|this)? ?(vulnerability|server|system|machine)\b`,
				`(?i)\bsteal (credentials|passwords|cookies|tokens|data)\b`,
				`(?i)\b(bypass|evade|disable) (the )?(antivirus|edr|firewall|authentication)\b`,
				`(?i)\breverse shell\b`,
				`(?i)\b(keylogger|ransomware|botnet)\b`,
				`(?i)\b(wipe|destroy|delete) (the )?(prod|production) (data|database|db)\b`,
				`(?i)\bexfiltrat(e|ion)\b`,
			),
		},
		{
			Name:       "illegal",
			Category:   types.CategoryIllegal,
			Confidence: 0.85,
			Method:     "regex:illegal",
			Reason:     "Detected potentially illegal activity request.",
			Rules: rules(
				`(?i)\b(buy|sell|make|synthesi[sz]e|cook) (meth|cocaine|heroin|fentanyl)\b`,
				`(?i)\bcounterfeit (money|currency|bills)\b`,
				`(?i)\blaunder(ing)? money\b|\bmoney laundering\b`,
				`(?i)\b(build|make) (a )?(bomb|explosive|pipe bomb)\b`,
				`(?i)\b(credit )?card (fraud|skimming)\b|\bcarding\b`,
			),
		},
	}
}
