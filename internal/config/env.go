package config

import (
	"fmt"
	"strings"
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// EnvVars describes the environment variables skiabind reads, with their
// effective values in c.
func (c *Config) EnvVars() []EnvVar {
	return []EnvVar{
		{"SKIABIND_TARGET", c.Target, "Target triple (falls back to TARGET, then the host)"},
		{"SKIABIND_FEATURES", c.Features, "Comma separated feature list (e.g. vulkan)"},
		{"SKIABIND_RELEASE_URL", c.ReleaseURL, "Base URL of prebuilt archives"},
		{"SKIABIND_DEBUG", c.Debug, "Show additional debug information (e.g. SKIABIND_DEBUG=1)"},
		{"CXX", c.Tools.CXX, "C++ compiler used for the shim"},
		{"AR", c.Tools.AR, "Archiver used for the shim"},
		{"CLANG", c.Tools.Clang, "clang used to parse the shim header"},
	}
}

// Values returns the effective environment values as strings, in the form
// the variables are read back. Lists are comma separated.
func (c *Config) Values() map[string]string {
	vals := make(map[string]string)
	for _, v := range c.EnvVars() {
		if list, ok := v.Value.([]string); ok {
			vals[v.Name] = strings.Join(list, ",")
			continue
		}
		vals[v.Name] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
