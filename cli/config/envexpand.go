// Package config loads armlink.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv expands environment references in a config document.
//
//	${VAR}           value of VAR, or "" when unset
//	${VAR:-default}  value of VAR, or default when unset or empty
//	${VAR:?message}  value of VAR; an error naming message when unset or empty
//
// Plain ${VAR} references that resolve to "" are left for Validate to
// reject (e.g. an empty publisher.redis.url).
func ExpandEnv(input string) (string, error) {
	return expandWith(input, os.LookupEnv)
}

func expandWith(input string, lookup func(string) (string, bool)) (string, error) {
	var errs []error
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]

		if v, ok := lookup(name); ok && (v != "" || op == "") {
			return v
		}
		switch op {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required"
			}
			errs = append(errs, fmt.Errorf("${%s}: %s", name, arg))
		}
		return ""
	})
	return out, errors.Join(errs...)
}
