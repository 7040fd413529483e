package provider

import "regexp"

// secretParamPattern matches credential-bearing query parameters as they
// appear in request URLs, which transport errors echo back verbatim.
var secretParamPattern = regexp.MustCompile(`(?i)(apikey|api_key|api-key|token|secret)=[^&\s"']+`)

// maskSecrets hides credential values before an error string reaches a
// log line or a ProviderError message. Header-carried credentials never
// appear in error strings, so query parameters are the only leak path.
func maskSecrets(s string) string {
	return secretParamPattern.ReplaceAllString(s, "$1=****")
}
