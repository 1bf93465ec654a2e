package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/logsift/pkg/types"
)

// Extensions of files that are never parsed as text logs
var deniedExtensions = []string{
	".xls", ".xlsx", ".tgz", ".zip", ".gz", ".tar", ".parquet", ".lock", ".tmp",
}

// Original names containing one of these are skipped, case-insensitively
var deniedNames = []string{"telemetry2", "snapshot"}

// Rejection reasons returned by FilterEligible
const (
	ReasonMissing   = "missing"
	ReasonEmpty     = "empty"
	ReasonExtension = "denied extension"
	ReasonName      = "denied name"
)

// FilterEligible splits files into those worth parsing and the rejected
// ones, keyed by original name with the reason.
func FilterEligible(files []types.UploadedFile) ([]types.UploadedFile, map[string]string) {
	eligible := make([]types.UploadedFile, 0, len(files))
	rejected := make(map[string]string)

	for _, f := range files {
		name := displayName(f)
		if reason := rejectReason(f); reason != "" {
			rejected[name] = reason
			continue
		}
		eligible = append(eligible, f)
	}
	return eligible, rejected
}

func rejectReason(f types.UploadedFile) string {
	info, err := os.Stat(f.Path)
	if err != nil || !info.Mode().IsRegular() {
		return ReasonMissing
	}
	if info.Size() == 0 {
		return ReasonEmpty
	}

	for _, name := range []string{f.InternalName, f.OriginalName, filepath.Base(f.Path)} {
		lower := strings.ToLower(name)
		for _, ext := range deniedExtensions {
			if strings.HasSuffix(lower, ext) {
				return ReasonExtension
			}
		}
	}

	lower := strings.ToLower(displayName(f))
	for _, denied := range deniedNames {
		if strings.Contains(lower, denied) {
			return ReasonName
		}
	}
	return ""
}

// displayName is the ledger key of a file
func displayName(f types.UploadedFile) string {
	if f.OriginalName != "" {
		return f.OriginalName
	}
	if f.InternalName != "" {
		return f.InternalName
	}
	return filepath.Base(f.Path)
}
