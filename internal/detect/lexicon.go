package detect

// Lexicons driving the claim-scoring heuristic. Tokens are matched
// case-insensitively against whitespace-split, punctuation-trimmed words.

// comparativeLexicon marks sentences that compare quantities or trends.
// Includes the common trend verbs alongside the pure comparatives.
var comparativeLexicon = map[string]bool{
	"more": true, "less": true, "higher": true, "lower": true,
	"up": true, "down": true, "increase": true, "increased": true,
	"decrease": true, "decreased": true, "than": true, "fewer": true,
	"fell": true, "rose": true, "dropped": true, "grew": true,
}

// superlativeKeywords and quantitativeKeywords feed the generic claim
// keyword score.
var superlativeKeywords = []string{
	"biggest", "largest", "smallest", "highest", "lowest", "best", "worst",
	"record", "unprecedented", "first", "only",
}

var quantitativeKeywords = []string{
	"percent", "percentage", "billion", "million", "trillion", "rate",
	"average", "median", "total", "majority", "double", "triple", "half",
}

// economicKeywords decide the economic category.
var economicKeywords = []string{
	"inflation", "unemployment", "economy", "economic", "gdp", "jobs",
	"wages", "earnings", "deficit", "debt", "taxes", "tax", "prices",
	"price", "interest", "tariff", "tariffs", "trade", "economy",
	"spending", "budget",
}

// politicalKeywords decide the political category.
var politicalKeywords = []string{
	"congress", "senate", "house", "bill", "law", "legislation", "policy",
	"administration", "president", "governor", "vote", "voted", "passed",
	"signed", "vetoed", "border", "immigration", "crime", "military",
	"court", "election",
}

// verifiablePoliticalKeywords are political terms with a concrete paper
// trail; their presence promotes a political claim to numeric_factual even
// without a digit.
var verifiablePoliticalKeywords = map[string]bool{
	"voted": true, "passed": true, "signed": true, "vetoed": true,
	"bill": true, "law": true, "legislation": true,
}
