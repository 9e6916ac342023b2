package models

// Sources a keyword can be searched against. AffinityBoth is the wildcard:
// the keyword is eligible for every source.
const (
	SourceOLX      = "olx"
	SourceFacebook = "facebook"
	AffinityBoth   = "both"
)

// Sources lists every concrete scrape source. Order matters: it is the order
// scheduler triggers are registered and manual "all" runs iterate.
var Sources = []string{SourceOLX, SourceFacebook}

func ValidSource(s string) bool {
	for _, src := range Sources {
		if s == src {
			return true
		}
	}
	return false
}

func ValidAffinity(a string) bool {
	return a == AffinityBoth || ValidSource(a)
}
