package config

import "os"

// DetectStage infers the pipeline stage from the environment when the
// caller does not pass one explicitly. Returns false when the stage cannot
// be determined; the caller must then use the base config (highest
// standard) rather than guessing permissively.
func DetectStage() (Stage, bool) {
	if os.Getenv("GITHUB_ACTIONS") != "true" {
		return "", false
	}

	if os.Getenv("GITHUB_EVENT_NAME") == "pull_request" {
		return StagePR, true
	}

	switch os.Getenv("GITHUB_REF") {
	case "refs/heads/main", "refs/heads/master":
		return StagePushToMain, true
	}

	return "", false
}
