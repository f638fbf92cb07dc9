// Package assembler implements the deterministic output validators and
// file-tree assembly of spec.md §4.4: a per-packageId content check
// over a model's JSON output, followed by writing a validated artifact
// to disk with a sha256 manifest and a bounded external compile check.
package assembler

import (
	"encoding/json"
	"sort"
	"strings"
)

// ValidationResult is the {pass, defects, warnings} shape every
// validator returns.
type ValidationResult struct {
	Pass         bool
	Defects      []string
	Warnings     []string
	QualityScore float64
}

// Artifact is the parsed shape a passing aggregation-report must take.
type Artifact struct {
	FileTree []string          `json:"fileTree"`
	Files    map[string]string `json:"files"`
	Report   Report            `json:"report"`
}

// Report is the report object embedded in an Artifact.
type Report struct {
	Summary              string      `json:"summary"`
	Aggregations         interface{} `json:"aggregations,omitempty"`
	AggregationsSchema   interface{} `json:"aggregationsSchema,omitempty"`
	ExampleAggregations  interface{} `json:"exampleAggregations,omitempty"`
}

const aggregationReportPackageKind = "aggregation-report"

var requiredFiles = []string{
	"package.json",
	"tsconfig.json",
	"src/parser.ts",
	"src/stats.ts",
	"src/cli.ts",
	"src/index.ts",
	"README.md",
}

var bannedPhrases = []string{
	"sample data",
	"placeholder data",
	"for this example",
}

// needsTypesPackages maps a runtime dependency to the @types/* package
// it requires in devDependencies.
var needsTypesPackages = map[string]string{
	"express": "@types/express",
	"lodash":  "@types/lodash",
	"node":    "@types/node",
}

// Validate dispatches to the validator for packageKind, returning nil
// (no check) for unknown kinds, per spec.md §4.4.
func Validate(packageKind, output string) *ValidationResult {
	switch packageKind {
	case aggregationReportPackageKind:
		return validateAggregationReport(output)
	default:
		return nil
	}
}

func validateAggregationReport(output string) *ValidationResult {
	result := &ValidationResult{}

	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "```") {
		result.Defects = append(result.Defects, "output contains markdown code fences")
	}

	var artifact Artifact
	if err := json.Unmarshal([]byte(trimmed), &artifact); err != nil {
		result.Defects = append(result.Defects, "output is not a single valid JSON object: "+err.Error())
		return finalize(result)
	}

	checkFileTreeAgreement(&artifact, result)
	checkRequiredFiles(&artifact, result)
	checkPackageJSON(&artifact, result)
	checkBannedPhrases(&artifact, result)

	return finalize(result)
}

func checkFileTreeAgreement(a *Artifact, result *ValidationResult) {
	treeSet := make(map[string]struct{}, len(a.FileTree))
	for _, p := range a.FileTree {
		treeSet[p] = struct{}{}
	}
	for _, p := range a.FileTree {
		if _, ok := a.Files[p]; !ok {
			result.Defects = append(result.Defects, "fileTree entry missing from files: "+p)
		}
	}
	for p := range a.Files {
		if _, ok := treeSet[p]; !ok {
			result.Defects = append(result.Defects, "files entry missing from fileTree: "+p)
		}
	}
}

func checkRequiredFiles(a *Artifact, result *ValidationResult) {
	for _, req := range requiredFiles {
		if _, ok := a.Files[req]; !ok {
			result.Defects = append(result.Defects, "missing required file: "+req)
		}
	}
}

func checkPackageJSON(a *Artifact, result *ValidationResult) {
	content, ok := a.Files["package.json"]
	if !ok {
		return
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
		Scripts         map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		result.Defects = append(result.Defects, "package.json is not valid JSON: "+err.Error())
		return
	}
	if _, ok := pkg.DevDependencies["typescript"]; !ok {
		result.Defects = append(result.Defects, "package.json missing devDependencies.typescript")
	}
	if _, ok := pkg.Scripts["build"]; !ok {
		result.Defects = append(result.Defects, "package.json missing scripts.build")
	}
	if _, ok := pkg.Scripts["start"]; !ok {
		result.Defects = append(result.Defects, "package.json missing scripts.start")
	}
	for dep := range pkg.Dependencies {
		typesPkg, needsTypes := needsTypesPackages[dep]
		if !needsTypes {
			continue
		}
		if _, ok := pkg.DevDependencies[typesPkg]; !ok {
			result.Defects = append(result.Defects, "dependency "+dep+" requires devDependencies."+typesPkg)
		}
	}
}

func checkBannedPhrases(a *Artifact, result *ValidationResult) {
	placeholderOnlyInReadme := true
	sawPlaceholder := false

	for path, content := range a.Files {
		lower := strings.ToLower(content)
		for _, phrase := range bannedPhrases {
			if strings.Contains(lower, phrase) {
				result.Defects = append(result.Defects, "banned phrase \""+phrase+"\" found in "+path)
			}
		}
		if strings.Contains(content, "<") && strings.Contains(content, ">") && containsPlaceholderToken(content) {
			sawPlaceholder = true
			if path != "README.md" {
				placeholderOnlyInReadme = false
			}
		}
	}

	if sawPlaceholder && placeholderOnlyInReadme {
		result.Warnings = append(result.Warnings, "placeholder angle-bracket tokens found only in README.md")
	} else if sawPlaceholder {
		result.Defects = append(result.Defects, "placeholder angle-bracket tokens found outside README.md")
	}
}

// containsPlaceholderToken does a cheap scan for "<...>"-shaped tokens
// without a full parse; good enough for a deterministic content check.
func containsPlaceholderToken(content string) bool {
	start := strings.Index(content, "<")
	if start < 0 {
		return false
	}
	end := strings.Index(content[start:], ">")
	return end > 0 && end < 40
}

func finalize(result *ValidationResult) *ValidationResult {
	sort.Strings(result.Defects)
	result.Pass = len(result.Defects) == 0
	if result.Pass {
		result.QualityScore = 1.0
		if len(result.Warnings) > 0 {
			result.QualityScore = 0.9
		}
	}
	return result
}
