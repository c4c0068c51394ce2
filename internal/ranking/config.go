package ranking

// BoostConfig holds the additive boosts applied by the Reranker.
type BoostConfig struct {
	ArticleRef    float64 `yaml:"article_ref"`    // default: 0.15
	SRNumber      float64 `yaml:"sr_number"`      // default: 0.10
	Definition    float64 `yaml:"definition"`     // default: 0.10
	KeywordMatch  float64 `yaml:"keyword_match"`  // default: 0.20
	OptimalLength float64 `yaml:"optimal_length"` // default: 0.05

	// Keyword overlap: query words longer than MinKeywordLength runes count as keywords;
	// at least MinKeywordMatches must occur in the content, and the boost saturates at
	// KeywordSaturation matches.
	MinKeywordLength  int `yaml:"min_keyword_length"`  // default: 3
	MinKeywordMatches int `yaml:"min_keyword_matches"` // default: 2
	KeywordSaturation int `yaml:"keyword_saturation"`  // default: 3

	// Content length band (runes) that earns OptimalLength.
	OptimalMinLength int `yaml:"optimal_min_length"` // default: 200
	OptimalMaxLength int `yaml:"optimal_max_length"` // default: 600
}

// DefaultBoostConfig returns the default boosts.
func DefaultBoostConfig() *BoostConfig {
	return &BoostConfig{
		ArticleRef:        0.15,
		SRNumber:          0.10,
		Definition:        0.10,
		KeywordMatch:      0.20,
		OptimalLength:     0.05,
		MinKeywordLength:  3,
		MinKeywordMatches: 2,
		KeywordSaturation: 3,
		OptimalMinLength:  200,
		OptimalMaxLength:  600,
	}
}

// ApplyDefaults fills zero thresholds with default values. Boost values are left alone so
// a boost can be switched off with 0.
func (c *BoostConfig) ApplyDefaults() {
	d := DefaultBoostConfig()
	if c.MinKeywordLength == 0 {
		c.MinKeywordLength = d.MinKeywordLength
	}
	if c.MinKeywordMatches == 0 {
		c.MinKeywordMatches = d.MinKeywordMatches
	}
	if c.KeywordSaturation == 0 {
		c.KeywordSaturation = d.KeywordSaturation
	}
	if c.OptimalMinLength == 0 {
		c.OptimalMinLength = d.OptimalMinLength
	}
	if c.OptimalMaxLength == 0 {
		c.OptimalMaxLength = d.OptimalMaxLength
	}
}
