package app

// paramNormalizationRules rewrites user-facing parameter names to the
// upstream provider's expected names, per model. Externalized from
// capability-validation logic so new per-model rewrites are a one-line
// addition here.
var paramNormalizationRules = map[string]map[string]string{
	"seedream-v4": {
		"size": "resolution",
	},
}

// normalizeParams returns a copy of params rewritten according to the
// per-model rule table; the input map is not modified. Unlisted models
// and unlisted keys pass through unchanged.
func normalizeParams(modelKey string, params map[string]string) map[string]string {
	rules, ok := paramNormalizationRules[modelKey]
	if !ok || len(params) == 0 {
		return params
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if renamed, ok := rules[k]; ok {
			out[renamed] = v
		} else {
			out[k] = v
		}
	}
	return out
}
