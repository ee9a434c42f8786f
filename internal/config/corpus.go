package config

// CorpusConfig lists extra known-malicious snippets for the similarity index.
type CorpusConfig struct {
	Snippets []CorpusSnippet `yaml:"snippets"`
}

type CorpusSnippet struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}
