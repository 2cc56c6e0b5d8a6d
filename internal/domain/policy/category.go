package policy

// CategoryUncategorized is the sentinel key for rows no rule matched. It is
// not part of the closed taxonomy and can never appear in a rule.
const CategoryUncategorized = "uncategorized"

// InflowCategories and OutflowCategories are the closed cash taxonomy.
// Rules and proposals must name one of these keys for the direction their
// pattern targets.
var (
	InflowCategories = []string{
		"revenue",
		"ar_collection",
		"funding",
		"refund_in",
		"transfer_in",
		"other_in",
	}
	OutflowCategories = []string{
		"payroll",
		"vendor",
		"rent",
		"tax",
		"debt",
		"refund_out",
		"fees",
		"transfer_out",
		"other_out",
	}
)

var knownCategories = func() map[string]bool {
	m := make(map[string]bool, len(InflowCategories)+len(OutflowCategories))
	for _, k := range InflowCategories {
		m[k] = true
	}
	for _, k := range OutflowCategories {
		m[k] = true
	}
	return m
}()

// KnownCategory reports whether key belongs to the closed taxonomy.
func KnownCategory(key string) bool { return knownCategories[key] }
