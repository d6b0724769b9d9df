// Filename: detect/popular.go
package detect

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// popularNames is the per-ecosystem reference set for the typosquat check.
// These are high-download names historically targeted by squatting campaigns.
var popularNames = map[schemas.Ecosystem]map[string]bool{
	schemas.EcosystemNPM: setOf(
		"react", "lodash", "express", "axios", "chalk", "commander",
		"webpack", "typescript", "moment", "request", "debug", "uuid",
		"mongoose", "jquery", "vue", "eslint", "prettier", "dotenv",
		"cross-env", "event-stream", "left-pad", "minimist", "yargs",
	),
	schemas.EcosystemPyPI: setOf(
		"requests", "numpy", "pandas", "django", "flask", "urllib3",
		"boto3", "setuptools", "pytest", "cryptography", "pillow",
		"matplotlib", "scipy", "colorama", "click", "pyyaml",
	),
	schemas.EcosystemMaven: setOf(
		"org.apache.commons:commons-lang3", "com.google.guava:guava",
		"org.slf4j:slf4j-api", "com.fasterxml.jackson.core:jackson-databind",
		"junit:junit", "org.apache.logging.log4j:log4j-core",
	),
}

func setOf(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
