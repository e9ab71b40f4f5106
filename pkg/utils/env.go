package utils

import "os"

// EnvOrDefault returns the value of the named environment variable, or def
// if it is unset or empty.
func EnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// EnvFileOrEnv reads the named *_FILE environment variable first (for
// secrets mounted as files), falling back to the plain environment
// variable of the given name. Returns an empty string if neither is set.
func EnvFileOrEnv(fileEnvName, plainEnvName string) (string, error) {
	if path := os.Getenv(fileEnvName); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", Wrapf(err, "read %s", fileEnvName)
		}
		return trimNewline(string(b)), nil
	}
	return os.Getenv(plainEnvName), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
